package main

import "errors"

// validateOptions rejects conflicting flag combinations before any work
// starts and applies the staging implication chain.
func validateOptions(o *options) error {
	if o.compare && o.generate {
		return errors.New("tried to compare and generate at the same time")
	}
	if o.baselineName != "" && !o.compare && !o.generate {
		return errors.New("provided baseline name but did not specify compare or generate")
	}
	if (o.compare || o.generate) && o.baselineName == "" {
		return errors.New("compare or generate requested without --baseline-name")
	}
	if o.namelistsOnly && !o.compare && !o.generate {
		return errors.New("must provide either --compare or --generate with --namelists-only")
	}
	if o.useExisting && o.testID == "" {
		return errors.New("must provide --test-id of pre-existing cases with --use-existing")
	}
	if o.parallelJobs < 0 {
		return errors.New("invalid value for --parallel-jobs")
	}
	if o.retryCount < 0 {
		return errors.New("invalid value for --retry")
	}

	// staging implication chain
	if o.noSetup {
		o.noBuild = true
	}
	if o.noBuild {
		o.noRun = true
	}
	if o.namelistsOnly {
		if o.noSetup {
			return errors.New("cannot compare namelists without setup")
		}
		o.noBuild = true
		o.noRun = true
		o.noBatch = true
	}

	if o.singleSubmit {
		if o.noRun {
			return errors.New("doesn't make sense to request single-submit if no-run is on")
		}
		// the first pass only creates the cases; the resubmitted child
		// does the actual building and running inside the allocation
		o.noBuild = true
		o.noRun = true
		o.noBatch = true
	}

	// a retry can only decide success/failure by waiting for completion
	if o.retryCount > 0 {
		o.wait = true
	}

	return nil
}

// validateForMachine checks the conflicts that depend on whether the
// resolved machine has a batch system.
func validateForMachine(o *options, hasBatch bool) error {
	if !o.wait && hasBatch && !o.noBatch {
		if o.checkThroughput {
			return errors.New("makes no sense to use --check-throughput without --wait")
		}
		if o.checkMemory {
			return errors.New("makes no sense to use --check-memory without --wait")
		}
	}
	return nil
}
