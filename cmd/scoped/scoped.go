package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"runtime/pprof"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	oscilloscope "github.com/Sanssin/esp32-oscilloscope"
	"github.com/Sanssin/esp32-oscilloscope/internal/scopedb"
)

var githash = "githash not computed"
var buildDate = "build date not computed"

// makeFileExist checks that dir/filename exists, and creates the directory
// and file if it doesn't.
func makeFileExist(dir, filename string) (string, error) {
	// Replace 1 instance of "$HOME" in the path with the actual home directory.
	if strings.Contains(dir, "$HOME") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		dir = strings.Replace(dir, "$HOME", home, 1)
	}

	// Create directory <dir>, if needed
	if _, err := os.Stat(dir); err != nil {
		if !os.IsNotExist(err) {
			return "", err
		}
		if err2 := os.MkdirAll(dir, 0775); err2 != nil {
			return "", err2
		}
	}

	// Create an empty file dir/filename, if it doesn't exist.
	fullname := path.Join(dir, filename)
	if _, err := os.Stat(fullname); os.IsNotExist(err) {
		f, err2 := os.OpenFile(fullname, os.O_WRONLY|os.O_CREATE, 0664)
		if err2 != nil {
			return "", err2
		}
		f.Close()
	}
	return fullname, nil
}

// setupViper sets up the viper configuration manager: says where to find
// config files and the filename and suffix. Sets some defaults.
func setupViper() error {
	viper.SetDefault("Verbose", false)
	viper.SetDefault("capturedir", ".")
	viper.SetDefault("recordtodb", false)

	home, err := os.UserHomeDir()
	if err != nil {
		fmt.Printf("Error finding User Home Dir: %s\n", err)
	}
	dotScoped := filepath.Join(home, ".scoped")
	const filename string = "config"
	const suffix string = ".yaml"
	if _, err := makeFileExist(dotScoped, filename+suffix); err != nil {
		return err
	}

	viper.SetConfigName(filename)
	viper.AddConfigPath(filepath.FromSlash("/etc/scoped"))
	viper.AddConfigPath(dotScoped)
	viper.AddConfigPath(".")
	if err := viper.ReadInConfig(); err != nil {
		return fmt.Errorf("error reading config file: %s", err)
	}
	return nil
}

func startLogger(pfname string) *log.Logger {
	probFile, err := os.OpenFile(pfname, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0666)
	if err != nil {
		panic(fmt.Sprintf("Could not open log file '%s'", pfname))
	}
	probLogger := log.New(probFile, "", log.LstdFlags)
	probLogger.SetOutput(&lumberjack.Logger{
		Filename:   pfname,
		MaxSize:    10,   // megabytes after which new file is created
		MaxBackups: 4,    // number of backups
		MaxAge:     180,  // days
		Compress:   true, // whether to gzip the backups
	})
	return probLogger
}

func main() {
	buildDate = strings.Replace(buildDate, ".", " ", -1) // workaround for Make problems
	oscilloscope.Build.Date = buildDate
	oscilloscope.Build.Githash = githash
	oscilloscope.Build.Summary = fmt.Sprintf("scoped version %s (git commit %s)", oscilloscope.Build.Version, githash)
	if host, err := os.Hostname(); err == nil {
		oscilloscope.Build.Host = host
	} else {
		oscilloscope.Build.Host = "host not detected"
	}

	printVersion := flag.Bool("version", false, "print version and quit")
	cpuprofile := flag.String("cpuprofile", "", "write CPU profile to given file")
	memprofile := flag.String("memprofile", "", "write memory profile to given file")
	flag.Parse()

	if *printVersion {
		fmt.Printf("This is scoped version %s\n", oscilloscope.Build.Version)
		fmt.Printf("Git commit hash: %s\n", githash)
		fmt.Printf("Build time: %s\n", buildDate)
		fmt.Printf("Built on go version %s\n", runtime.Version())
		fmt.Printf("Running on %d CPUs.\n", runtime.NumCPU())
		os.Exit(0)
	}

	banner := fmt.Sprintf("\nThis is scoped version %s (git commit %s)\n", oscilloscope.Build.Version, githash)
	fmt.Print(banner)

	if *cpuprofile != "" {
		f, err := os.Create(*cpuprofile)
		if err != nil {
			log.Fatal(err)
		}
		pprof.StartCPUProfile(f)
		defer pprof.StopCPUProfile()
	}

	// Start logging problems and updates to 2 log files.
	home, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	logdir := filepath.Join(home, ".scoped", "logs")
	problemname, err := makeFileExist(logdir, "problems.log")
	if err != nil {
		panic(err)
	}
	logname, err := makeFileExist(logdir, "updates.log")
	if err != nil {
		panic(err)
	}
	oscilloscope.ProblemLogger = startLogger(problemname)
	oscilloscope.UpdateLogger = startLogger(logname)
	fmt.Printf("Logging problems       to %s\n", problemname)
	fmt.Printf("Logging client updates to %s\n\n", logname)
	oscilloscope.UpdateLogger.Printf("\n\n\n\n%s", banner)

	// Find config file, creating it if needed, and read it.
	if err := setupViper(); err != nil {
		panic(err)
	}

	abort := make(chan struct{})
	defer close(abort)

	// Record the session to ClickHouse when enabled; otherwise discard.
	db := scopedb.DummyConnection()
	sessionID := ulid.Make().String()
	if viper.GetBool("recordtodb") {
		session := &scopedb.SessionMessage{
			ID:        sessionID,
			Hostname:  oscilloscope.Build.Host,
			Version:   oscilloscope.Build.Version,
			GoVersion: runtime.Version(),
			Start:     time.Now(),
		}
		db = scopedb.StartConnection(session, abort)
	}

	messageChan := make(chan oscilloscope.ClientUpdate)
	go oscilloscope.RunClientUpdater(messageChan, oscilloscope.Ports.Status, abort)

	ctrl := oscilloscope.NewController()
	recorder := &snapshotRecorder{db: db, sessionID: sessionID}
	scopeControl := oscilloscope.NewScopeControl(ctrl, messageChan, recorder)

	if err := oscilloscope.RunRPCServer(scopeControl, oscilloscope.Ports.RPC, true); err != nil {
		log.Fatal(err)
	}
	writeMemoryProfile(memprofile)
}

// snapshotRecorder adapts the scopedb connection to the controller's
// SnapshotRecorder interface.
type snapshotRecorder struct {
	db        *scopedb.Connection
	sessionID string
}

func (r *snapshotRecorder) RecordSnapshot(snap oscilloscope.MeasurementSnapshot) {
	msg := &scopedb.SnapshotMessage{
		SessionID: r.sessionID,
		Time:      time.Now(),
		VMax:      snap.VMax,
		VMin:      snap.VMin,
		VAvg:      snap.VAvg,
		VPP:       snap.VPP,
	}
	if snap.FrequencyHz != nil {
		msg.FrequencyHz = *snap.FrequencyHz
	}
	if snap.PeriodMS != nil {
		msg.PeriodMS = *snap.PeriodMS
	}
	r.db.RecordSnapshot(msg)
}

func writeMemoryProfile(memprofile *string) {
	if *memprofile == "" {
		return
	}
	f, err := os.Create(*memprofile)
	if err != nil {
		log.Fatal("could not create memory profile: ", err)
	}
	defer f.Close()
	runtime.GC()
	if err := pprof.WriteHeapProfile(f); err != nil {
		log.Fatal("could not write memory profile: ", err)
	}
}
