package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/hpcweave/launchtest/pkg/batch"
	"github.com/hpcweave/launchtest/pkg/engine"
	"github.com/hpcweave/launchtest/pkg/machines"
	"github.com/hpcweave/launchtest/pkg/resolver"
	"github.com/hpcweave/launchtest/pkg/retry"
	"github.com/hpcweave/launchtest/pkg/suites"
)

// exit codes: cobra errors exit 2, an exhausted retry budget exits with a
// distinct code so CI can tell "tests failed" from "bad invocation".
const exitCodeTestsFailed = 100

// errTestsFailed marks a run that completed but did not succeed within the
// retry budget.
var errTestsFailed = errors.New("tests failed")

type options struct {
	testfile string

	noRun   bool
	noBuild bool
	noSetup bool
	noBatch bool

	useExisting  bool
	singleSubmit bool

	testRoot     string
	baselineRoot string
	baselineName string

	compare       bool
	generate      bool
	namelistsOnly bool

	machine  string
	compiler string
	project  string
	testID   string

	parallelJobs int
	procPool     int
	walltime     time.Duration
	queue        string

	allowBaselineOverwrite bool
	wait                   bool
	checkThroughput        bool
	checkMemory            bool

	retryCount   int
	forceProcs   int
	forceThreads int

	sortByWalltime bool

	machinesConfig string
	suitesConfig   string
	runnerPath     string
	verbose        bool
}

var opts = &options{}

var rootCmd = &cobra.Command{
	Use:   "launchtest [flags] TESTARG...",
	Short: "Create, build and run suites of test cases",
	Long: `launchtest resolves test names and suite names into a canonical test
list, drives the build/run engine over it with bounded retries, and can
consolidate all scheduled jobs into a single batch allocation.

Testname form is TEST.GRID.COMPSET[.MACHINE_COMPILER]. A suite name expands
to its members; a leading ^ excludes a test or suite from the accumulated
set:

    launchtest e3sm_dev ^ERS.f19_g16.B1850 --retry 1`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(opts, args, os.Args[1:])
	},
}

// Execute runs the root command and maps its outcome to a process exit code.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, errTestsFailed) {
			os.Exit(exitCodeTestsFailed)
		}
		os.Exit(2)
	}
}

func init() {
	f := rootCmd.Flags()

	f.StringVarP(&opts.testfile, "testfile", "f", "", "file containing an ascii list of tests to run")
	f.BoolVar(&opts.noRun, "no-run", false, "do not run generated tests")
	f.BoolVar(&opts.noBuild, "no-build", false, "do not build generated tests, implies --no-run")
	f.BoolVar(&opts.noSetup, "no-setup", false, "do not setup generated tests, implies --no-build and --no-run")
	f.BoolVar(&opts.noBatch, "no-batch", false, "do not submit jobs to the batch system, run locally")
	f.BoolVarP(&opts.useExisting, "use-existing", "u", false, "use pre-existing case directories; requires --test-id")
	f.BoolVar(&opts.singleSubmit, "single-submit", false, "use a single batch allocation to run all the tests")
	f.StringVarP(&opts.testRoot, "test-root", "r", "", "where test cases are created")
	f.StringVar(&opts.baselineRoot, "baseline-root", "", "root directory for baseline datasets")
	f.StringVarP(&opts.baselineName, "baseline-name", "b", "", "baseline directory under the baseline root")
	f.BoolVarP(&opts.compare, "compare", "c", false, "compare against baselines while testing")
	f.BoolVarP(&opts.generate, "generate", "g", false, "generate baselines while testing")
	f.BoolVarP(&opts.namelistsOnly, "namelists-only", "n", false, "only perform namelist actions for tests")
	f.StringVarP(&opts.machine, "machine", "m", "", "machine for creating and building tests")
	f.StringVar(&opts.compiler, "compiler", "", "compiler to build the tests with")
	f.StringVarP(&opts.project, "project", "p", "", "project id for batch accounting")
	f.StringVarP(&opts.testID, "test-id", "t", "", "id appended to each case; default is a timestamp plus random string")
	f.IntVarP(&opts.parallelJobs, "parallel-jobs", "j", 0, "number of tests to build/run simultaneously")
	f.IntVar(&opts.procPool, "proc-pool", 0, "size of the processor pool available to the tests")
	f.DurationVar(&opts.walltime, "walltime", 0, "wallclock limit for all tests in the suite")
	f.StringVarP(&opts.queue, "queue", "q", "", "force the batch system to use a certain queue")
	f.BoolVarP(&opts.allowBaselineOverwrite, "allow-baseline-overwrite", "o", false, "allow --generate to overwrite an existing baseline")
	f.BoolVar(&opts.wait, "wait", false, "on batch machines, wait for submitted jobs to complete")
	f.BoolVar(&opts.checkThroughput, "check-throughput", false, "fail if the throughput check fails; requires --wait")
	f.BoolVar(&opts.checkMemory, "check-memory", false, "fail if the memory check fails; requires --wait")
	f.IntVar(&opts.retryCount, "retry", 0, "automatically retry failed tests; >0 implies --wait")
	f.IntVar(&opts.forceProcs, "force-procs", 0, "force all tests to run with this number of processors")
	f.IntVar(&opts.forceThreads, "force-threads", 0, "force all tests to run with this number of threads")
	f.BoolVar(&opts.sortByWalltime, "sort-by-walltime", false, "order the test list longest-first by predicted run time")
	f.StringVar(&opts.machinesConfig, "machines-config", "", "path to the machine definitions file")
	f.StringVar(&opts.suitesConfig, "suites-config", "", "path to the suite catalog file")
	f.StringVar(&opts.runnerPath, "runner", "", "path to the per-case phase runner binary")
	f.BoolVarP(&opts.verbose, "verbose", "v", false, "print debugging details")

	initConfig()
	for _, key := range []string{
		"machine", "compiler", "test-root", "baseline-root", "wait",
		"retry", "proc-pool", "walltime", "sort-by-walltime",
		"machines-config", "suites-config", "runner", "project",
	} {
		_ = viper.BindPFlag(key, f.Lookup(key))
	}
}

// initConfig wires the viper defaults chain: flag > env > config file >
// builtin default.
func initConfig() {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(filepath.Join(home, ".config", "launchtest"))
	}
	viper.AddConfigPath(".")
	viper.SetEnvPrefix("LAUNCHTEST")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()

	viper.SetDefault("test-root", "./testruns")
	viper.SetDefault("machines-config", "config/machines.yaml")
	viper.SetDefault("suites-config", "config/suites.yaml")

	// a missing config file is fine, any other read error is not
	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			fmt.Fprintln(os.Stderr, "warning: ignoring unreadable config file:", err)
		}
	}
}

func newLogger(verbose bool) *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

// run is the whole orchestration: resolve, retry loop, summary, optional
// batch consolidation. invocationArgs is the original argv tail, passed
// through to the consolidation planner for the resubmission rewrite.
func run(o *options, testargs []string, invocationArgs []string) error {
	applyConfigDefaults(o)

	log := newLogger(o.verbose)
	defer log.Sync() //nolint:errcheck

	if err := validateOptions(o); err != nil {
		return err
	}

	if o.testID == "" {
		o.testID = fmt.Sprintf("%s_%s", time.Now().Format("20060102_150405"), uuid.NewString()[:8])
	}

	if o.testfile != "" {
		fromFile, err := readTestfile(o.testfile)
		if err != nil {
			return err
		}
		testargs = append(testargs, fromFile...)
	}
	if len(testargs) == 0 {
		return errors.New("no tests or suites specified")
	}

	machineCfg, err := machines.Load(o.machinesConfig)
	if err != nil {
		return err
	}
	catalog, err := suites.Load(o.suitesConfig)
	if err != nil {
		return err
	}

	res, err := resolver.Resolve(testargs, catalog, machineCfg, resolver.Options{
		Machine:          o.machine,
		Compiler:         o.compiler,
		BaselineOps:      o.compare || o.generate,
		SortByWalltime:   o.sortByWalltime,
		ExplicitWalltime: o.walltime > 0,
		Log:              log,
	})
	if err != nil {
		return err
	}
	log.Info("resolved tests",
		zap.Int("count", len(res.Tests)),
		zap.String("machine", res.Machine),
		zap.String("compiler", res.Compiler),
		zap.String("test_id", o.testID))

	if err := validateForMachine(o, machineCfg.HasBatchSystem(res.Machine)); err != nil {
		return err
	}

	eng := engine.NewLocal(catalog, o.runnerPath, log)
	driver := &retry.Driver{
		MaxRetries:             o.retryCount,
		UseExisting:            o.useExisting,
		AllowBaselineOverwrite: o.allowBaselineOverwrite,
		Log:                    log,
	}

	ctx := context.Background()
	success := driver.Run(func(a retry.Attempt) bool {
		return eng.Run(ctx, res.Tests, engine.Flags{
			UseExisting:            a.UseExisting,
			AllowBaselineOverwrite: a.AllowBaselineOverwrite,
			SuppressInjectedFaults: a.SuppressInjectedFaults,
			NoSetup:                o.noSetup,
			NoBuild:                o.noBuild,
			NoRun:                  o.noRun,
			Compare:                o.compare,
			Generate:               o.generate,
			BaselineName:           o.baselineName,
			BaselineRoot:           o.baselineRoot,
			ForceProcs:             o.forceProcs,
			ForceThreads:           o.forceThreads,
			Walltime:               o.walltime,
			ParallelJobs:           o.parallelJobs,
			TestRoot:               o.testRoot,
			TestID:                 o.testID,
			Machine:                res.Machine,
			Compiler:               res.Compiler,
		})
	})

	printSummary(os.Stdout, res.Tests, eng.Results(), success)

	if !success {
		return errTestsFailed
	}

	if o.singleSubmit {
		planner := &batch.Planner{
			Machines:   machineCfg,
			EntryPoint: executablePath(),
			Log:        log,
		}
		if err := planner.PlanAndSubmit(batch.Request{
			Machine:          res.Machine,
			TestRoot:         o.testRoot,
			TestID:           o.testID,
			Tests:            res.Tests,
			ExplicitProcPool: o.procPool,
			ExplicitWalltime: o.walltime,
			ExplicitQueue:    o.queue,
			Project:          o.project,
			InvocationArgs:   invocationArgs,
		}); err != nil {
			return err
		}
	}
	return nil
}

// applyConfigDefaults fills options the user did not set on the command
// line from the viper chain.
func applyConfigDefaults(o *options) {
	if o.machine == "" {
		o.machine = viper.GetString("machine")
	}
	if o.compiler == "" {
		o.compiler = viper.GetString("compiler")
	}
	if o.testRoot == "" {
		o.testRoot = viper.GetString("test-root")
	}
	if o.baselineRoot == "" {
		o.baselineRoot = viper.GetString("baseline-root")
	}
	if o.project == "" {
		o.project = viper.GetString("project")
	}
	if o.machinesConfig == "" {
		o.machinesConfig = viper.GetString("machines-config")
	}
	if o.suitesConfig == "" {
		o.suitesConfig = viper.GetString("suites-config")
	}
	if o.runnerPath == "" {
		o.runnerPath = viper.GetString("runner")
	}
	if o.retryCount == 0 {
		o.retryCount = viper.GetInt("retry")
	}
	if o.procPool == 0 {
		o.procPool = viper.GetInt("proc-pool")
	}
	if o.walltime == 0 {
		o.walltime = viper.GetDuration("walltime")
	}
	o.wait = o.wait || viper.GetBool("wait")
	o.sortByWalltime = o.sortByWalltime || viper.GetBool("sort-by-walltime")
}

func readTestfile(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reading testfile: %w", err)
	}
	defer file.Close()

	var tests []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		tests = append(tests, line)
	}
	return tests, scanner.Err()
}

func executablePath() string {
	if exe, err := os.Executable(); err == nil {
		return exe
	}
	return os.Args[0]
}
