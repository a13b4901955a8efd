package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"github.com/odvcencio/constellation/pkg/constellation"
	"github.com/odvcencio/constellation/pkg/protocol"
	"github.com/odvcencio/constellation/pkg/render/textmode"
)

var defaultScript = []string{"home.test", "slow:news.test", "docs.test"}

// script is a sequence of embedder commands run against one window.
type script struct {
	urls  []string
	child string
	back  int
	step  time.Duration
	size  protocol.Size
}

var runCmd = &cobra.Command{
	Use:   "run [url...]",
	Short: "Drive a scripted browsing session and draw it on the terminal",
	Long: `Opens a window, navigates through the given URLs one step apart, optionally
embeds a child frame and walks back through the joint history. Every presented
frame is drawn on the terminal. URL prefixes such as slow:, hang:, crash: and
navigate:<url> select simulated document behaviours.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		step, _ := cmd.Flags().GetDuration("step")
		back, _ := cmd.Flags().GetInt("back")
		child, _ := cmd.Flags().GetString("child")
		hold, _ := cmd.Flags().GetBool("hold")
		if fit, _ := cmd.Flags().GetBool("fit"); fit {
			if size, ok := terminalViewport(cmd.OutOrStdout(), cfg.Compositor.CellWidth, cfg.Compositor.CellHeight); ok {
				cfg.Constellation.Viewport = size
			}
		}
		if len(args) == 0 {
			args = defaultScript
		}

		sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		ctx, cancel := context.WithCancel(sigCtx)
		defer cancel()

		out := cmd.OutOrStdout()
		backend := textmode.New(out, textmode.Options{
			CellWidth:  cfg.Compositor.CellWidth,
			CellHeight: cfg.Compositor.CellHeight,
		})
		e, err := newEngine(ctx, cfg, newLogger(cfg), backend)
		if err != nil {
			return err
		}
		defer e.close()

		g, gctx := errgroup.WithContext(ctx)
		e.start(gctx, g)
		g.Go(func() error {
			err := script{
				urls:  args,
				child: child,
				back:  back,
				step:  step,
				size:  cfg.Constellation.Viewport,
			}.run(gctx, e.constellation)
			if err == nil && !hold {
				// Leave time for the last frame to be presented.
				time.Sleep(step)
				cancel()
			}
			return err
		})
		err = ignoreCanceled(g.Wait())

		fmt.Fprint(out, textmode.Reset)
		fmt.Fprintln(out, e.constellation.FrameTree().String())
		return err
	},
}

func init() {
	runCmd.Flags().Duration("step", time.Second, "Delay between scripted commands")
	runCmd.Flags().Int("back", 1, "History steps to traverse back after the last navigation")
	runCmd.Flags().String("child", "frame.test", "URL embedded as a child frame of the first document (empty for none)")
	runCmd.Flags().Bool("hold", false, "Keep running after the script until interrupted")
	runCmd.Flags().Bool("fit", true, "Size the window to the terminal when writing to one")
	rootCmd.AddCommand(runCmd)
}

func (s script) run(ctx context.Context, c *constellation.Constellation) error {
	window, err := c.CreateTopLevel(ctx, s.urls[0], s.size)
	if err != nil {
		return err
	}
	if !sleep(ctx, s.step) {
		return nil
	}

	if s.child != "" {
		rect := protocol.Rect{
			X:      s.size.Width / 2,
			Y:      s.size.Height / 4,
			Width:  s.size.Width / 3,
			Height: s.size.Height / 2,
		}
		if _, err := c.AttachChild(ctx, window, s.child, constellation.AttachOptions{Rect: rect}); err != nil {
			return err
		}
		if !sleep(ctx, s.step) {
			return nil
		}
	}

	for _, url := range s.urls[1:] {
		if err := c.Navigate(ctx, window, url, constellation.NavigateOptions{}); err != nil {
			return err
		}
		if !sleep(ctx, s.step) {
			return nil
		}
	}

	for i := 0; i < s.back; i++ {
		if err := c.GoBack(ctx, window, 1); err != nil {
			return err
		}
		if !sleep(ctx, s.step) {
			return nil
		}
	}
	return nil
}

// terminalViewport converts the terminal behind out to device pixels. The
// last row is left for the frame tree dump.
func terminalViewport(out io.Writer, cellWidth, cellHeight int) (protocol.Size, bool) {
	f, ok := out.(*os.File)
	if !ok || !term.IsTerminal(int(f.Fd())) {
		return protocol.Size{}, false
	}
	cols, rows, err := term.GetSize(int(f.Fd()))
	if err != nil || cols <= 0 || rows <= 1 {
		return protocol.Size{}, false
	}
	return protocol.Size{Width: cols * cellWidth, Height: (rows - 1) * cellHeight}, true
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
