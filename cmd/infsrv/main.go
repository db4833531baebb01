// Command infsrv runs the speech segmentation server: it loads the
// capability registry, starts a pool of ONNX-backed annotators, and serves
// the /segment WebSocket endpoint plus a /debug/closes introspection
// endpoint. Bootstrap style (flag-based config, godotenv, signal-driven
// graceful shutdown) grounded on ashi009-asr-eval's cmd/server/main.go and
// the teacher's examples/voice_call_with_vad.go.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	ort "github.com/yalue/onnxruntime_go"
	"golang.org/x/time/rate"

	"github.com/blobfish-labs/infsrv/internal/annotator"
	"github.com/blobfish-labs/infsrv/internal/annotator/onnxvad"
	"github.com/blobfish-labs/infsrv/internal/capability"
	"github.com/blobfish-labs/infsrv/internal/logger"
	"github.com/blobfish-labs/infsrv/internal/ringbuf"
	"github.com/blobfish-labs/infsrv/internal/transport"
	"github.com/blobfish-labs/infsrv/internal/workerpool"
)

const closeLogCapacity = 64 * 1024 // bytes of recent /debug/closes history

func main() {
	var (
		serverAddress   string
		serverPort      int
		capabilitiesCSV string
		logLevel        string
		capabilityFile  string
		workerPoolSize  int
		annotateRate    float64
		ortLibPath      string
	)

	flag.StringVar(&serverAddress, "server-address", "0.0.0.0", "address to listen on")
	flag.IntVar(&serverPort, "server-port", 8080, "port to listen on")
	flag.StringVar(&capabilitiesCSV, "capabilities", "", "comma-separated list of capability names to enable")
	flag.StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (DEBUG, INFO, WARN, ERROR)")
	flag.StringVar(&capabilityFile, "capability-file", "capabilities.yaml", "path to the capability registry file")
	flag.IntVar(&workerPoolSize, "worker-pool-size", 4, "number of concurrent annotator workers")
	flag.Float64Var(&annotateRate, "max-annotate-rate", 0, "max annotator invocations per second across all sessions (0 = unlimited)")
	flag.StringVar(&ortLibPath, "onnxruntime-lib", "", "path to the ONNX Runtime shared library (empty = system default)")
	flag.Parse()

	_ = godotenv.Load()

	logger.Init()
	if logLevel != "" {
		switch strings.ToUpper(logLevel) {
		case "DEBUG":
			logger.SetLevel(logger.DEBUG)
		case "INFO":
			logger.SetLevel(logger.INFO)
		case "WARN", "WARNING":
			logger.SetLevel(logger.WARN)
		case "ERROR":
			logger.SetLevel(logger.ERROR)
		default:
			logger.Warn("unrecognized -log-level %q, keeping environment setting", logLevel)
		}
	}

	if capabilitiesCSV == "" {
		logger.Error("missing required -capabilities flag")
		os.Exit(1)
	}
	enabled := strings.Split(capabilitiesCSV, ",")

	if ortLibPath != "" {
		ort.SetSharedLibraryPath(ortLibPath)
	}
	if err := ort.InitializeEnvironment(); err != nil {
		logger.Error("initializing ONNX Runtime: %v", err)
		os.Exit(1)
	}
	defer ort.DestroyEnvironment()

	registry, err := capability.Load(capabilityFile)
	if err != nil {
		logger.Error("loading capability registry: %v", err)
		os.Exit(1)
	}

	reloader := cron.New()
	if _, err := reloader.AddFunc("@every 1m", registry.Reload); err != nil {
		logger.Error("scheduling capability reload: %v", err)
		os.Exit(1)
	}
	reloader.Start()
	defer reloader.Stop()

	var limiter *rate.Limiter
	if annotateRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(annotateRate), workerPoolSize)
	}
	pool := workerpool.New(workerPoolSize, limiter)
	defer pool.Close()

	var liveAnnotators []annotator.Annotator
	build := func(cap capability.Capability) (annotator.Annotator, error) {
		v, err := onnxvad.New(onnxvad.Config{ModelPath: cap.ModelLoadPath})
		if err != nil {
			return nil, err
		}
		liveAnnotators = append(liveAnnotators, v)
		return v, nil
	}

	segmentServer, err := transport.NewServer(registry, enabled, build, pool)
	if err != nil {
		logger.Error("building segment server: %v", err)
		os.Exit(1)
	}
	defer func() {
		for _, a := range liveAnnotators {
			if err := a.Close(); err != nil {
				logger.Warn("closing annotator: %v", err)
			}
		}
	}()

	closeLog := ringbuf.New(closeLogCapacity)
	segmentServer.SetCloseLog(closeLog)

	mux := http.NewServeMux()
	mux.Handle("/segment", segmentServer)
	mux.HandleFunc("/debug/closes", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write(closeLog.Data())
	})

	addr := fmt.Sprintf("%s:%d", serverAddress, serverPort)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening on ws://%s/segment", addr)
		serveErr <- httpServer.ListenAndServe()
	}()

	select {
	case err := <-serveErr:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server error: %v", err)
			os.Exit(1)
		}
		return
	case <-sigChan:
		logger.Info("shutting down")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed: %v", err)
	}
}
