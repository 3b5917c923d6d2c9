package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"eventreservoir/internal/app"
	"eventreservoir/internal/backup"
	"eventreservoir/internal/config"
	"eventreservoir/internal/engine"
	"eventreservoir/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "evr",
	Short: "Event Reservoir CLI",
	Long: `Event Reservoir tracks event check-ins and distributions with offline-first kiosks.
- serve runs the central API server that owns the attendee roster.
- kiosk runs a scanning station: scans hit the server when reachable and
  queue locally when not, then replay automatically once connectivity returns.
- The remaining commands are operator tools: manual sync, queue inspection,
  backups, onboarding, and scan entry.`,
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("EVR")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func registerCommands() {
	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(kioskCmd())
	rootCmd.AddCommand(syncCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(backupCmd())
	rootCmd.AddCommand(statusCmd())
	rootCmd.AddCommand(checkinCmd())
	rootCmd.AddCommand(distributeCmd())
	rootCmd.AddCommand(onboardCmd())
}

func loadConfig() (*config.Config, error) {
	return config.Load(viper.GetString("workspace"))
}

func serveCmd() *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the central API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if addr != "" {
				cfg.Server.Addr = addr
			}
			log := logging.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)

			srv, err := app.NewServer(viper.GetString("workspace"), cfg, log)
			if err != nil {
				return err
			}
			defer srv.Close()

			mailerCtx, stopMailer := context.WithCancel(cmd.Context())
			defer stopMailer()
			go srv.Mailer.Run(mailerCtx)

			httpSrv := &http.Server{Addr: cfg.Server.Addr, Handler: srv.Handler}
			go func() {
				<-cmd.Context().Done()
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				httpSrv.Shutdown(ctx)
			}()
			log.Info("serving API", "addr", cfg.Server.Addr, "base_path", cfg.Server.BasePath)
			if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	return cmd
}

func kioskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "kiosk",
		Short: "Run the kiosk sync daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logging.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
			k, err := app.NewKiosk(viper.GetString("workspace"), cfg, log)
			if err != nil {
				return err
			}
			defer k.Close()

			k.Start(cmd.Context())
			log.Info("kiosk running",
				"server", cfg.Kiosk.ServerURL,
				"pull", cfg.Kiosk.PullInterval.Std(),
				"push", cfg.Kiosk.PushInterval.Std())
			<-cmd.Context().Done()
			log.Info("shutting down")
			k.Stop()
			return nil
		},
	}
	return cmd
}

func syncCmd() *cobra.Command {
	sync := &cobra.Command{Use: "sync", Short: "Run a sync cycle by hand"}
	sync.AddCommand(&cobra.Command{
		Use:   "pull",
		Short: "Fetch the server snapshot into the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKiosk(cmd.Context(), func(ctx context.Context, k *app.Kiosk) error {
				n, err := k.Reconcile.Pull(ctx)
				if err != nil {
					return err
				}
				return printJSONOrText(map[string]any{"records": n}, fmt.Sprintf("pulled %d records", n))
			})
		},
	})
	sync.AddCommand(&cobra.Command{
		Use:   "push",
		Short: "Replay the pending queue against the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKiosk(cmd.Context(), func(ctx context.Context, k *app.Kiosk) error {
				n, err := k.Reconcile.Push(ctx)
				if err != nil {
					return err
				}
				return printJSONOrText(map[string]any{"retired": n}, fmt.Sprintf("retired %d queue entries", n))
			})
		},
	})
	return sync
}

func queueCmd() *cobra.Command {
	queue := &cobra.Command{Use: "queue", Short: "Inspect the local sync queue"}
	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List queue entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKiosk(cmd.Context(), func(ctx context.Context, k *app.Kiosk) error {
				actions, err := k.Cache.ListPending(ctx)
				if all {
					actions, err = k.Cache.AllActions(ctx)
				}
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(actions)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "QR Code", "Action", "Timestamp", "Synced"})
				for _, a := range actions {
					tw.AppendRow(table.Row{a.ID, a.Code, a.ActionType, a.Timestamp, a.Synced})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().BoolVar(&all, "all", false, "include synced entries")
	queue.AddCommand(list)

	queue.AddCommand(&cobra.Command{
		Use:   "compact",
		Short: "Delete synced queue entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKiosk(cmd.Context(), func(ctx context.Context, k *app.Kiosk) error {
				n, err := k.Cache.CompactSynced(ctx)
				if err != nil {
					return err
				}
				return printJSONOrText(map[string]any{"removed": n}, fmt.Sprintf("removed %d synced entries", n))
			})
		},
	})
	return queue
}

func backupCmd() *cobra.Command {
	bk := &cobra.Command{Use: "backup", Short: "Manage local state backups"}
	bk.AddCommand(&cobra.Command{
		Use:   "create",
		Short: "Write a backup of the local cache and queue",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKiosk(cmd.Context(), func(ctx context.Context, k *app.Kiosk) error {
				path, err := k.Backup.Create(ctx)
				if err != nil {
					return err
				}
				return printJSONOrText(map[string]any{"path": path}, "backup written to "+path)
			})
		},
	})
	bk.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List backups, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKiosk(cmd.Context(), func(ctx context.Context, k *app.Kiosk) error {
				paths, err := k.Backup.List()
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(paths)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Path", "Timestamp", "Attendees", "Queue"})
				for _, p := range paths {
					doc, err := backup.Read(p)
					if err != nil {
						tw.AppendRow(table.Row{p, "unreadable", "", ""})
						continue
					}
					tw.AppendRow(table.Row{p, doc.Timestamp, len(doc.Attendees), len(doc.SyncQueue)})
				}
				tw.Render()
				return nil
			})
		},
	})
	return bk
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show kiosk sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKiosk(cmd.Context(), func(ctx context.Context, k *app.Kiosk) error {
				st, err := k.Status(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(st)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendRow(table.Row{"Online", st.Online})
				tw.AppendRow(table.Row{"Link up", st.LinkUp})
				tw.AppendRow(table.Row{"Cached records", st.CachedRecords})
				tw.AppendRow(table.Row{"Pending queue", st.PendingQueue})
				tw.Render()
				return nil
			})
		},
	}
}

func checkinCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkin <qr-code>",
		Short: "Check an attendee in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKiosk(cmd.Context(), func(ctx context.Context, k *app.Kiosk) error {
				res, err := k.CheckIn(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrText(res, res.Message)
			})
		},
	}
}

func distributeCmd() *cobra.Command {
	dist := &cobra.Command{Use: "distribute", Short: "Record a distribution"}
	dist.AddCommand(&cobra.Command{
		Use:   "lunch <qr-code>",
		Short: "Distribute lunch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKiosk(cmd.Context(), func(ctx context.Context, k *app.Kiosk) error {
				res, err := k.DistributeLunch(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrText(res, res.Message)
			})
		},
	})
	dist.AddCommand(&cobra.Command{
		Use:   "kit <qr-code>",
		Short: "Distribute the event kit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withKiosk(cmd.Context(), func(ctx context.Context, k *app.Kiosk) error {
				res, err := k.DistributeKit(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSONOrText(res, res.Message)
			})
		},
	})
	return dist
}

func onboardCmd() *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Register attendees from a CSV and issue QR codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			if file == "" {
				return fmt.Errorf("--file required")
			}
			rows, err := engine.ReadCSVFile(file)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			log := logging.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
			srv, err := app.NewServer(viper.GetString("workspace"), cfg, log)
			if err != nil {
				return err
			}
			defer srv.Close()

			results, err := srv.Engine.Onboard(cmd.Context(), rows)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(results)
			}
			tw := table.NewWriter()
			tw.SetOutputMirror(os.Stdout)
			tw.AppendHeader(table.Row{"Row", "Status", "QR Code", "Message"})
			for _, r := range results {
				tw.AppendRow(table.Row{r.Row, r.Status, r.Code, r.Message})
			}
			tw.Render()
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "CSV file with name,email,phone columns")
	return cmd
}

func withKiosk(ctx context.Context, fn func(context.Context, *app.Kiosk) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log.Level, cfg.Log.Format, cfg.Log.File)
	k, err := app.NewKiosk(viper.GetString("workspace"), cfg, log)
	if err != nil {
		return err
	}
	defer k.Close()
	return fn(ctx, k)
}

func printJSONOrText(v any, text string) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	fmt.Println(text)
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
