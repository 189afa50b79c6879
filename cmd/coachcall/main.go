package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/voice-coach-lab/internal/archive"
	"github.com/voice-coach-lab/internal/call"
	"github.com/voice-coach-lab/internal/coach"
	"github.com/voice-coach-lab/internal/config"
	"github.com/voice-coach-lab/internal/control"
	"github.com/voice-coach-lab/internal/device"
	"github.com/voice-coach-lab/internal/feed"
	"github.com/voice-coach-lab/internal/logging"
)

const version = "v0.3.0"

func main() {
	conversation := flag.String("c", "", "conversation id to continue")
	envFile := flag.String("env", ".env", "dotenv file to load; ignored when missing")
	ctl := flag.String("ctl", "", "call a control tool on a running coachcall and exit (args as key=value)")
	flag.Parse()

	envErr := godotenv.Load(*envFile)
	sugar := logging.Init()
	defer logging.Sync()
	if envErr != nil && !errors.Is(envErr, fs.ErrNotExist) {
		sugar.Warnw("dotenv load failed", "file", *envFile, "err", envErr)
	}
	cfg := config.Load()

	if *ctl != "" {
		os.Exit(runRemote(cfg, *ctl, flag.Args()))
	}

	terminate, err := device.Init()
	if err != nil {
		sugar.Fatalf("audio init: %v", err)
	}
	defer terminate()
	sink, err := device.OpenSink(cfg.Device.SampleRate, cfg.Device.FramesPerBuffer)
	if err != nil {
		sugar.Fatalf("speaker: %v", err)
	}
	defer sink.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	var wg sync.WaitGroup

	deps := call.Deps{
		Mic:     device.Microphone{SampleRate: cfg.Device.SampleRate, FramesPerBuffer: cfg.Device.FramesPerBuffer},
		Backend: coach.NewClient(cfg.Backend, cfg.Playback.DefaultMIME),
		Output:  device.NewSpeaker(sink, cfg.Device.SampleRate),
	}
	if store := archive.NewStore(cfg.Archive.Dir); store != nil {
		deps.Archive = store
		wg.Add(1)
		archive.StartCleaner(ctx, &wg, store.Dir, cfg.Archive.Retention, cfg.Archive.Interval, cfg.Archive.MaxFiles)
		sugar.Infow("turn archive enabled", "dir", store.Dir, "retention", cfg.Archive.Retention, "max_files", cfg.Archive.MaxFiles)
	}

	mgr := call.NewManager(cfg, deps)
	hub := feed.NewHub()
	mgr.Subscribe(hub.Publish)
	mgr.Subscribe(terminalPrinter())

	srv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           feed.Routes(mgr, hub, map[string]http.Handler{"/mcp/ws": control.NewServer(mgr, version)}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		sugar.Infow("http listening", "addr", cfg.ListenAddr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			sugar.Errorw("http server failed", "err", err)
		}
	}()
	if err := control.Register("coachcall", "ws://"+cfg.ListenAddr+"/mcp/ws"); err != nil {
		sugar.Warnw("mcp register failed", "err", err)
	}

	k := &keys{mgr: mgr, conversation: *conversation, out: os.Stdout}
	fmt.Println(keyHelp)
	if err := k.startCall(ctx); err != nil {
		fmt.Println(err)
	}
	go func() {
		k.run(ctx, os.Stdin)
		cancel()
	}()

	<-ctx.Done()
	sugar.Infow("shutdown signal received, closing resources")
	mgr.End()
	hub.Close()
	shutdownCtx, done := context.WithTimeout(context.Background(), 3*time.Second)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		sugar.Warnw("http shutdown error", "err", err)
	}
	wg.Wait()
	sugar.Info("shutdown complete")
}

// terminalPrinter prints the status line whenever it changes.
func terminalPrinter() func(call.Snapshot) {
	var (
		mu   sync.Mutex
		last string
	)
	return func(s call.Snapshot) {
		line := statusLine(s)
		mu.Lock()
		defer mu.Unlock()
		// elapsed ticks every second; only print real changes
		key := strings.TrimPrefix(line, "["+s.Elapsed+"] ")
		if key == last {
			return
		}
		last = key
		fmt.Println(line)
	}
}

func runRemote(cfg config.Config, tool string, args []string) int {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	c := control.NewClient("coachcall-ctl", version)
	if err := c.ConnectWebSocket(ctx, "ws://"+cfg.ListenAddr+"/mcp/ws"); err != nil {
		fmt.Fprintf(os.Stderr, "connect: %v\n", err)
		return 1
	}
	defer c.Close()
	out, err := c.Call(ctx, tool, toolArgs(args))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	fmt.Println(out)
	return 0
}

// toolArgs turns key=value pairs into tool arguments. true/false become
// booleans.
func toolArgs(pairs []string) map[string]any {
	out := make(map[string]any, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			continue
		}
		if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
			continue
		}
		out[k] = v
	}
	return out
}
