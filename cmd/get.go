package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/danzoengine/danzoengine/internal/chunkengine"
	"github.com/danzoengine/danzoengine/internal/config"
	"github.com/danzoengine/danzoengine/internal/diskspace"
	"github.com/danzoengine/danzoengine/internal/httpadapter"
	"github.com/danzoengine/danzoengine/internal/logging"
	"github.com/danzoengine/danzoengine/internal/output"
)

var (
	getOutput      string
	getConnections int
	getParallel    bool
	getOnTheFly    bool
	getSpeedLimit  int64
	getBufferSize  int
	getTimeout     time.Duration
	getMaxRetries  int
	getTempDir     string
	getKeepTemp    bool
	getUserAgent   string
	getHeaders     []string
	getProxyURL    string
)

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get <url>",
		Short: "Download a single resource over multiple connections",
		Args:  cobra.ExactArgs(1),
		RunE:  runGet,
	}
	cmd.Flags().StringVarP(&getOutput, "output", "o", "", "Output file or folder (inferred from Content-Disposition/URL if a folder or omitted)")
	cmd.Flags().IntVarP(&getConnections, "connections", "c", 8, "Number of chunks (above 8 enables high-thread-mode)")
	cmd.Flags().BoolVar(&getParallel, "parallel", true, "Fetch chunks concurrently instead of sequentially")
	cmd.Flags().BoolVar(&getOnTheFly, "on-the-fly", false, "Hold chunks in memory instead of on-disk temp files")
	cmd.Flags().Int64Var(&getSpeedLimit, "speed-limit", 0, "Per-chunk bytes/second cap, 0 = unlimited")
	cmd.Flags().IntVar(&getBufferSize, "buffer-size", 64*1024, "Bytes read per syscall")
	cmd.Flags().DurationVarP(&getTimeout, "timeout", "t", 30*time.Second, "Per-read timeout and retry backoff base")
	cmd.Flags().IntVar(&getMaxRetries, "max-retries", 5, "Per-chunk retry ceiling")
	cmd.Flags().StringVar(&getTempDir, "temp-dir", "", "Directory for on-disk chunk temp files (default: alongside the destination)")
	cmd.Flags().BoolVar(&getKeepTemp, "keep-temp-on-cancel", true, "Preserve temp files if the download is cancelled")
	cmd.Flags().StringVarP(&getUserAgent, "user-agent", "a", "", "User agent")
	cmd.Flags().StringArrayVarP(&getHeaders, "header", "H", nil, "Custom header 'Key: Value', repeatable")
	cmd.Flags().StringVarP(&getProxyURL, "proxy", "p", "", "HTTP/HTTPS proxy URL")
	return cmd
}

func runGet(cmd *cobra.Command, args []string) error {
	logging.Init(debug)
	logger := logging.Get("cli")

	url := args[0]
	defaults := config.Load(config.Defaults{
		Connections:   getConnections,
		SpeedLimit:    getSpeedLimit,
		TempDirectory: getTempDir,
		BufferSize:    getBufferSize,
		Timeout:       getTimeout,
	})
	if cmd.Flags().Changed("connections") {
		defaults.Connections = getConnections
	}
	if cmd.Flags().Changed("speed-limit") {
		defaults.SpeedLimit = getSpeedLimit
	}
	if cmd.Flags().Changed("temp-dir") {
		defaults.TempDirectory = getTempDir
	}
	if cmd.Flags().Changed("buffer-size") {
		defaults.BufferSize = getBufferSize
	}
	if cmd.Flags().Changed("timeout") {
		defaults.Timeout = getTimeout
	}

	clientCfg := httpadapter.ClientConfig{
		Timeout:        60 * time.Second,
		UserAgent:      getUserAgent,
		Headers:        parseHeaderArgs(getHeaders),
		ProxyURL:       getProxyURL,
		HighThreadMode: defaults.Connections > 8,
	}
	client := httpadapter.NewClient(clientCfg)
	adapter, err := httpadapter.New(url, client, clientCfg)
	if err != nil {
		output.PrintError(fmt.Sprintf("invalid URL: %v", err))
		return err
	}

	dest := getOutput
	destIsFolder := dest == "" || strings.HasSuffix(dest, string(filepath.Separator))
	if info, statErr := os.Stat(dest); statErr == nil && info.IsDir() {
		destIsFolder = true
	}
	if dest == "" {
		dest = "."
	}

	opts := chunkengine.DefaultOptions()
	opts.ChunkCount = defaults.Connections
	opts.ParallelDownload = getParallel
	opts.OnTheFlyDownload = getOnTheFly
	opts.MaximumSpeedPerChunk = defaults.SpeedLimit
	opts.BufferBlockSize = defaults.BufferSize
	opts.Timeout = defaults.Timeout
	opts.MaxTryAgainOnFailover = getMaxRetries
	opts.TempDirectory = defaults.TempDirectory
	opts.KeepTempOnCancel = getKeepTemp

	reporter := output.NewReporter(!isTerminal())

	orchestrator := &chunkengine.DownloadOrchestrator{
		Adapter:   adapter,
		Options:   opts,
		Observer:  reporter.Observer(),
		DiskSpace: diskspace.Checker{},
		Logger:    logging.Get("orchestrator"),
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Warn().Msg("interrupt received, cancelling download")
		cancel()
	}()
	defer signal.Stop(sigCh)

	start := time.Now()
	pkg, err := orchestrator.Download(ctx, dest, destIsFolder)
	if pkg != nil {
		logger.Debug().Str("summary", output.SummaryLine(pkg, time.Since(start))).Msg("download finished")
	}
	if err != nil {
		return err
	}
	return nil
}

func parseHeaderArgs(headers []string) map[string]string {
	result := make(map[string]string)
	for _, header := range headers {
		parts := strings.SplitN(header, ":", 2)
		if len(parts) == 2 {
			result[strings.TrimSpace(parts[0])] = strings.TrimSpace(parts[1])
		}
	}
	return result
}

func isTerminal() bool {
	info, err := os.Stdout.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}
