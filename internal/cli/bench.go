package cli

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/simbafs/stagesync/internal/config"
	"github.com/simbafs/stagesync/internal/domain"
	"github.com/simbafs/stagesync/internal/session"
)

const benchDrain = 500 * time.Millisecond

// benchMessage carries a slide payload under a type displays ignore. The hub
// relays it from any controller, leader or not.
const benchMessage = "bench"

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Measure slide fan-out through a running session hub.",
	Long: `Joins the hub with one controller and n displays, broadcasts slide changes
at a fixed interval and reports how many of them reached every display.
Bench messages leave what real displays show untouched.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(cmd, domain.RoleController, nil); err != nil {
			return err
		}
		hub, _ := cmd.Flags().GetString("hub")
		n, _ := cmd.Flags().GetInt("n")
		duration, _ := cmd.Flags().GetDuration("duration")
		interval, _ := cmd.Flags().GetDuration("interval")
		threshold, _ := cmd.Flags().GetFloat64("error-threshold")

		fmt.Printf("Starting fan-out benchmark with %d displays...\n", n)
		result := runBench(cmd.Context(), BenchOptions{HubURL: hub, Displays: n, Duration: duration, Interval: interval})
		fmt.Println(benchReport(n, threshold, result))
		return nil
	},
}

func init() {
	benchCmd.Flags().String("hub", "ws://localhost:8080/ws", "Websocket url of the session hub")
	benchCmd.Flags().IntP("n", "n", 10, "Number of displays")
	benchCmd.Flags().Duration("duration", 10*time.Second, "How long to keep broadcasting")
	benchCmd.Flags().Duration("interval", 100*time.Millisecond, "Time between slide changes")
	benchCmd.Flags().Float64("error-threshold", 1.0, "Loss rate in percent above which the run fails")
	rootCmd.AddCommand(benchCmd)
}

type BenchOptions struct {
	HubURL   string
	Displays int
	Duration time.Duration
	Interval time.Duration
}

type BenchResult struct {
	JoinedDisplays uint64
	JoinErrors     uint64
	Sent           uint64
	SendErrors     uint64
	Received       uint64
}

// Expected is the number of deliveries a loss-free hub would make.
func (r BenchResult) Expected() uint64 {
	return r.Sent * r.JoinedDisplays
}

func (r BenchResult) LossRate() float64 {
	if r.Expected() == 0 {
		return 0
	}
	lost := int64(r.Expected()) - int64(r.Received)
	if lost < 0 {
		lost = 0
	}
	return float64(lost) / float64(r.Expected()) * 100
}

func runBench(ctx context.Context, opts BenchOptions) BenchResult {
	var (
		joined, joinErrors, sent, sendErrors, received atomic.Uint64
		wg                                             sync.WaitGroup
	)

	join := func(role domain.Role, name string) *session.Manager {
		m := session.NewManager(session.Options{
			Capability: config.Capability{Role: role},
			HubURL:     opts.HubURL,
		})
		if _, err := m.Start(ctx, role, name); err != nil {
			joinErrors.Add(1)
			slog.Debug("bench peer failed to join", "name", name, "error", err)
			return nil
		}
		return m
	}

	ctl := join(domain.RoleController, "bench-controller")
	if ctl == nil {
		return BenchResult{JoinErrors: joinErrors.Load()}
	}
	defer ctl.Stop()

	recvCtx, stopReceiving := context.WithCancel(ctx)
	defer stopReceiving()

	for i := range opts.Displays {
		m := join(domain.RoleDisplay, fmt.Sprintf("bench-display-%d", i))
		if m == nil {
			continue
		}
		joined.Add(1)
		msgs, cancel := m.Messages()
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer m.Stop()
			defer cancel()
			for {
				select {
				case <-recvCtx.Done():
					return
				case env, ok := <-msgs:
					if !ok {
						return
					}
					if env.Type == benchMessage && env.From == ctl.SelfID() {
						received.Add(1)
					}
				}
			}
		}()
	}

	sendCtx, stopSending := context.WithTimeout(ctx, opts.Duration)
	defer stopSending()

	ticker := time.NewTicker(opts.Interval)
	defer ticker.Stop()

	for index := 0; ; index++ {
		select {
		case <-sendCtx.Done():
			select {
			case <-ctx.Done():
			case <-time.After(benchDrain):
			}
			stopReceiving()
			wg.Wait()
			return BenchResult{
				JoinedDisplays: joined.Load(),
				JoinErrors:     joinErrors.Load(),
				Sent:           sent.Load(),
				SendErrors:     sendErrors.Load(),
				Received:       received.Load(),
			}
		case <-ticker.C:
			env, err := domain.NewEnvelope(benchMessage, domain.SlideData{
				SongID:     "bench",
				SlideIndex: index,
				Timestamp:  time.Now().UnixMilli(),
			})
			if err != nil {
				sendErrors.Add(1)
				continue
			}
			if err := ctl.Broadcast(env); err != nil {
				sendErrors.Add(1)
				continue
			}
			sent.Add(1)
		}
	}
}

func benchReport(n int, threshold float64, r BenchResult) string {
	connection := renderTable("Connection Report", []string{"Metric", "Value"}, [][]string{
		{"Requested Displays", valueStyle.Render(fmt.Sprint(n))},
		{"Joined Displays", successStyle.Render(fmt.Sprint(r.JoinedDisplays))},
		{"Join Errors", errorStyle.Render(fmt.Sprint(r.JoinErrors))},
	})

	fanout := renderTable("Fan-out Report", []string{"Metric", "Value"}, [][]string{
		{"Slides Sent", valueStyle.Render(fmt.Sprint(r.Sent))},
		{"Send Errors", errorStyle.Render(fmt.Sprint(r.SendErrors))},
		{"Expected Deliveries", valueStyle.Render(fmt.Sprint(r.Expected()))},
		{"Received", valueStyle.Render(fmt.Sprint(r.Received))},
		{"Loss Rate", valueStyle.Render(fmt.Sprintf("%.2f%%", r.LossRate()))},
	})

	verdict := successStyle.Bold(true).Render(
		fmt.Sprintf("Benchmark PASSED: loss rate %.2f%% is within %.2f%%.", r.LossRate(), threshold))
	if r.LossRate() > threshold || r.JoinedDisplays < uint64(n) {
		verdict = errorStyle.Bold(true).Render(
			fmt.Sprintf("Benchmark FAILED: loss rate %.2f%%, %d of %d displays joined.", r.LossRate(), r.JoinedDisplays, n))
	}

	return lipgloss.JoinVertical(lipgloss.Left, connection, fanout, verdict)
}
