// Command agent is a headless canvas participant. It finds a server (by URL
// or over mDNS), joins a room, optionally draws random strokes and records
// everything it receives.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"collabcanvas/internal/client"
	"collabcanvas/internal/discovery"
	"collabcanvas/internal/oplog"
	"collabcanvas/internal/protocol"
	"collabcanvas/internal/recorder"
)

type options struct {
	url         string
	room        string
	name        string
	color       string
	record      string
	logLevel    string
	browse      time.Duration
	interval    time.Duration
	strokes     int
	maxRetries  uint64
	canvasWidth float64
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("agent", flag.ContinueOnError)
	fs.StringVar(&o.url, "url", "", "server websocket URL; discovered over mDNS when empty")
	fs.StringVar(&o.room, "room", "", "room to join (server default when empty)")
	fs.StringVar(&o.name, "name", "", "display name (server assigns one when empty)")
	fs.StringVar(&o.color, "color", "", "display colour, #RGB or #RRGGBB")
	fs.StringVar(&o.record, "record", "", "bbolt file to record received messages into")
	fs.StringVar(&o.logLevel, "log-level", "info", "debug, info, warn or error")
	fs.DurationVar(&o.browse, "browse-timeout", discovery.DefaultBrowseTimeout, "how long to look for servers over mDNS")
	fs.DurationVar(&o.interval, "interval", 100*time.Millisecond, "delay between drawn segments")
	fs.IntVar(&o.strokes, "draw", 0, "number of random segments to draw after joining")
	fs.Uint64Var(&o.maxRetries, "retries", client.DefaultMaxRetries, "reconnect attempts before giving up")
	fs.Float64Var(&o.canvasWidth, "canvas", 800, "side of the square area random strokes are drawn in")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}
	if o.strokes < 0 {
		return options{}, fmt.Errorf("-draw must not be negative, got %d", o.strokes)
	}
	return o, nil
}

func main() {
	if err := run(os.Args[1:], os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "agent: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stderr io.Writer) error {
	o, err := parseFlags(args)
	if err != nil {
		return err
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.logLevel)); err != nil {
		return fmt.Errorf("invalid log level %q", o.logLevel)
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	url := o.url
	if url == "" {
		url, err = discover(ctx, o.browse, logger)
		if err != nil {
			return err
		}
	}

	var rec *recorder.Recorder
	if o.record != "" {
		session := time.Now().UTC().Format("20060102T150405Z")
		if rec, err = recorder.Open(o.record, session); err != nil {
			return err
		}
		defer rec.Close()
		logger.Info("recording session", "file", o.record, "session", session)
	}

	identity := protocol.Join{
		UserID:    uuid.NewString(),
		UserName:  o.name,
		UserColor: o.color,
		RoomID:    o.room,
	}

	joined := make(chan struct{}, 1)
	handle := func(m protocol.Outbound) {
		logger.Debug("received", "type", m.Type())
		if rec != nil {
			if err := rec.Record(m); err != nil {
				logger.Warn("recording failed", slog.Any("error", err))
			}
		}
		if m.Type() == protocol.TypeUsersList {
			select {
			case joined <- struct{}{}:
			default:
			}
		}
	}

	c := client.New(url, identity, handle,
		client.WithLogger(logger),
		client.WithMaxRetries(o.maxRetries),
	)

	if o.strokes > 0 {
		go drawRandom(ctx, c, joined, o, logger)
	}

	logger.Info("connecting", "url", url, "user", identity.UserID)
	if err := c.Run(ctx); err != nil {
		return err
	}
	if rec != nil {
		if n, err := rec.Count(); err == nil {
			logger.Info("session recorded", "messages", n)
		}
	}
	return nil
}

func discover(ctx context.Context, timeout time.Duration, logger *slog.Logger) (string, error) {
	logger.Info("looking for servers over mDNS", "service", discovery.ServiceType, "timeout", timeout)
	endpoints, err := discovery.Browse(ctx, timeout)
	if err != nil {
		return "", err
	}
	if len(endpoints) == 0 {
		return "", errors.New("no server found over mDNS; pass -url")
	}
	for _, ep := range endpoints {
		logger.Info("discovered server", "instance", ep.Instance, "url", ep.URL, "version", ep.Version)
	}
	return endpoints[0].URL, nil
}

// drawRandom waits for the first join and then draws a connected random walk.
func drawRandom(ctx context.Context, c *client.Client, joined <-chan struct{}, o options, logger *slog.Logger) {
	select {
	case <-ctx.Done():
		return
	case <-joined:
	}

	ticker := time.NewTicker(o.interval)
	defer ticker.Stop()

	x, y := rand.Float64()*o.canvasWidth, rand.Float64()*o.canvasWidth
	color := o.color
	if color == "" {
		color = "#000000"
	}
	for i := 0; i < o.strokes; {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		nx := clamp(x+rand.NormFloat64()*20, o.canvasWidth)
		ny := clamp(y+rand.NormFloat64()*20, o.canvasWidth)
		seg := oplog.Segment{X0: x, Y0: y, X1: nx, Y1: ny, Tool: oplog.ToolBrush, Color: color, StrokeWidth: 3}
		if err := c.Draw(seg); err != nil {
			logger.Debug("draw skipped", slog.Any("error", err))
			continue
		}
		x, y = nx, ny
		i++
	}
	logger.Info("finished drawing", "segments", o.strokes)
}

func clamp(v, hi float64) float64 {
	return min(max(v, 0), hi)
}
