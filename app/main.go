package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	log "github.com/go-pkgz/lgr"
	"github.com/go-pkgz/repeater"
	"github.com/go-pkgz/repeater/strategy"
	"github.com/umputun/go-flags"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/umputun/modelgen/app/config"
	"github.com/umputun/modelgen/app/generator"
	"github.com/umputun/modelgen/app/merger"
	"github.com/umputun/modelgen/app/service"
)

var opts struct {
	Config      string        `short:"c" long:"config" env:"MODELGEN_CONFIG" description:"config file with generation targets, overrides target flags"`
	Schemas     string        `short:"s" long:"schemas" env:"MODELGEN_SCHEMAS" default:"schemas" description:"schemas directory"`
	Output      string        `short:"o" long:"output" env:"MODELGEN_OUTPUT" default:"generated-models" description:"output directory"`
	Entities    string        `short:"e" long:"entities" env:"MODELGEN_ENTITIES" default:"entities" description:"entities subdirectory"`
	Suffix      string        `long:"suffix" env:"MODELGEN_SUFFIX" default:".schema.yaml" description:"schema file suffix"`
	Ext         string        `long:"ext" env:"MODELGEN_EXT" default:".py" description:"generated file extension"`
	Command     string        `long:"command" env:"MODELGEN_COMMAND" description:"generator command template (default datamodel-codegen)"`
	FileType    string        `long:"file-type" env:"MODELGEN_FILE_TYPE" default:"yaml" description:"input file type passed to generator"`
	NoMerge     bool          `long:"no-merge" env:"MODELGEN_NO_MERGE" description:"generate entities one by one, no merged schema"`
	MergedFile  string        `long:"merged" env:"MODELGEN_MERGED" description:"merged entities schema location (default in temp dir)"`
	Cleanup     bool          `long:"cleanup" env:"MODELGEN_CLEANUP" description:"remove merged schema after the run"`
	Dialect     string        `long:"dialect" env:"MODELGEN_DIALECT" default:"https://json-schema.org/draft/2020-12/schema" description:"$schema of merged document"`
	OnCollision string        `long:"on-collision" env:"MODELGEN_ON_COLLISION" choice:"overwrite" choice:"fail" default:"overwrite" description:"entities with the same name"`
	Strict      bool          `long:"strict" env:"MODELGEN_STRICT" description:"exit with error if any model failed"`
	Timeout     time.Duration `long:"timeout" env:"MODELGEN_TIMEOUT" default:"0s" description:"generator timeout, 0 for none"`
	MaxLogLines int           `long:"max-log" env:"MODELGEN_MAX_LOG" default:"100" description:"max lines of captured generator output"`
	Verbose     bool          `short:"v" long:"verbose" env:"MODELGEN_VERBOSE" description:"show generator output"`

	Repeater struct {
		Attempts int           `long:"attempts" env:"ATTEMPTS" default:"1" description:"how many times to run failed generator"`
		Duration time.Duration `long:"duration" env:"DURATION" default:"1s" description:"initial duration"`
		Factor   float64       `long:"factor" env:"FACTOR" default:"3" description:"backoff factor"`
		Jitter   bool          `long:"jitter" env:"JITTER" description:"jitter"`
	} `group:"repeater" namespace:"repeater" env-namespace:"MODELGEN_REPEATER"`

	Log struct {
		Filename   string `long:"file" env:"FILE" description:"log file, stdout if not set"`
		MaxSize    int    `long:"max-size" env:"MAX_SIZE" default:"100" description:"max log file size in megabytes"`
		MaxBackups int    `long:"max-backups" env:"MAX_BACKUPS" default:"7" description:"max number of rotated files"`
		MaxAge     int    `long:"max-age" env:"MAX_AGE" default:"0" description:"max age of rotated files in days"`
		Compress   bool   `long:"compress" env:"COMPRESS" description:"compress rotated files"`
	} `group:"log" namespace:"log" env-namespace:"MODELGEN_LOG"`

	Dbg bool `long:"dbg" env:"MODELGEN_DEBUG" description:"debug mode"`
}

var revision = "unknown"

func main() {
	fmt.Printf("modelgen %s\n", revision)

	if _, err := flags.Parse(&opts); err != nil {
		os.Exit(2)
	}
	setupLogs(setupLogOutput(), opts.Dbg)

	defer func() {
		if x := recover(); x != nil {
			log.Printf("[WARN] run time panic:\n%v", x)
			panic(x)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	signals(cancel) // handle SIGQUIT and SIGTERM

	if err := run(ctx); err != nil {
		log.Printf("[ERROR] %v", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	builder, err := makeBuilder(cfg)
	if err != nil {
		return err
	}

	rep, err := builder.Do(ctx)
	if err != nil {
		return fmt.Errorf("generation aborted: %w", err)
	}
	if e := rep.Err(); e != nil {
		if opts.Strict {
			return e
		}
		log.Printf("[WARN] %v", e)
	}
	return nil
}

// loadConfig reads config file if set, otherwise makes a single target config from command line
func loadConfig() (*config.File, error) {
	if opts.Config != "" {
		return config.Load(opts.Config)
	}

	keepMerged, mergeEntities := !opts.Cleanup, !opts.NoMerge
	cfg := &config.File{
		Schemas:     opts.Schemas,
		Entities:    opts.Entities,
		Suffix:      opts.Suffix,
		MergedFile:  opts.MergedFile,
		KeepMerged:  &keepMerged,
		Dialect:     opts.Dialect,
		OnCollision: opts.OnCollision,
		Targets: []config.Target{{
			Name:          "default",
			Command:       opts.Command,
			Output:        opts.Output,
			Ext:           opts.Ext,
			FileType:      opts.FileType,
			MergeEntities: &mergeEntities,
		}},
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}
	return cfg, nil
}

func makeBuilder(cfg *config.File) (*service.Builder, error) {
	res := &service.Builder{
		SchemasDir:  cfg.Schemas,
		EntitiesDir: cfg.Entities,
		Suffix:      cfg.Suffix,
		MergedFile:  cfg.MergedFile,
		KeepMerged:  cfg.KeepMerged == nil || *cfg.KeepMerged,
		Merger: &merger.Merger{
			Root:        cfg.Schemas,
			EntitiesDir: cfg.Entities,
			Suffix:      cfg.Suffix,
			Dialect:     cfg.Dialect,
			OnCollision: cfg.OnCollision,
		},
	}

	for _, t := range cfg.Targets {
		cmd, err := generator.NewCommandTemplate(t.Command)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", t.Name, err)
		}
		res.Targets = append(res.Targets, service.Target{
			Name:          t.Name,
			OutputDir:     t.Output,
			Ext:           t.Ext,
			MergeEntities: t.MergeEntities == nil || *t.MergeEntities,
			Runner: &generator.Generator{
				Command:     cmd,
				FileType:    t.FileType,
				Repeater:    makeRepeater(),
				MaxLogLines: opts.MaxLogLines,
				Timeout:     opts.Timeout,
				Stdout:      makeVerboseWriter(),
			},
		})
		log.Printf("[DEBUG] target %s: %s", t.Name, cmd)
	}
	return res, nil
}

// makeRepeater returns nil for a single attempt, the generator runs once without repeater
func makeRepeater() generator.Repeater {
	if opts.Repeater.Attempts <= 1 {
		return nil
	}
	return repeater.New(&strategy.Backoff{Repeats: opts.Repeater.Attempts, Duration: opts.Repeater.Duration,
		Factor: opts.Repeater.Factor, Jitter: opts.Repeater.Jitter})
}

// makeVerboseWriter returns stdout in verbose mode, nil otherwise.
// Returning typed nil would make the generator write to it
func makeVerboseWriter() io.Writer {
	if !opts.Verbose {
		return nil
	}
	return os.Stdout
}

// setupLogOutput returns writer for informational logs, rotated file if log file set
func setupLogOutput() io.Writer {
	if opts.Log.Filename == "" {
		return os.Stdout
	}
	return &lumberjack.Logger{
		Filename:   opts.Log.Filename,
		MaxSize:    opts.Log.MaxSize,
		MaxBackups: opts.Log.MaxBackups,
		MaxAge:     opts.Log.MaxAge,
		Compress:   opts.Log.Compress,
	}
}

// setupLogs sends all messages to out, errors go to stderr as well
func setupLogs(out io.Writer, dbg bool) {
	if dbg {
		log.Setup(log.Out(out), log.Err(os.Stderr), log.Debug, log.Msec, log.CallerFunc, log.CallerPkg, log.CallerFile)
		return
	}
	log.Setup(log.Out(out), log.Err(os.Stderr), log.Msec)
}

func signals(cancel context.CancelFunc) {
	sigChan := make(chan os.Signal, 1)
	go func() {
		stacktrace := make([]byte, 8192)
		for sig := range sigChan {
			if sig == syscall.SIGQUIT { // catch SIGQUIT and print stack traces
				length := runtime.Stack(stacktrace, true)
				fmt.Println(string(stacktrace[:length]))
				continue
			}
			log.Printf("[WARN] %v received, terminating", sig)
			cancel() // terminate on SIGTERM and SIGINT
		}
	}()
	signal.Notify(sigChan, syscall.SIGQUIT, syscall.SIGTERM, syscall.SIGINT)
}
