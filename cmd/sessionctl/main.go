package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/dropDatabas3/sessionkit/internal/app"
	"github.com/dropDatabas3/sessionkit/internal/autherr"
	"github.com/dropDatabas3/sessionkit/internal/config"
	"github.com/dropDatabas3/sessionkit/internal/observability/logger"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// cli guarda los flags globales y el contenedor armado en PersistentPreRunE.
type cli struct {
	configPath string
	baseURL    string
	out        string
	verbose    bool

	stdout io.Writer
	c      *app.Container
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func main() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root, cl := newRootCmd()
	err := root.ExecuteContext(ctx)
	cl.shutdown()
	if err != nil {
		if msg := autherr.Message(err); msg != "" {
			fmt.Fprintln(os.Stderr, msg)
		} else {
			fmt.Fprintln(os.Stderr, "error:", err)
		}
		os.Exit(1)
	}
}

func newRootCmd() (*cobra.Command, *cli) {
	cl := &cli{
		configPath: envOr("SESSIONCTL_CONFIG", ""),
		out:        envOr("SESSIONCTL_OUT", "text"),
		stdout:     os.Stdout,
	}

	root := &cobra.Command{
		Use:           "sessionctl",
		Short:         "Cliente de sesión: login, MFA, refresh y llamadas protegidas",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&cl.configPath, "config", cl.configPath, "Archivo YAML de configuración (env SESSIONCTL_CONFIG)")
	root.PersistentFlags().StringVar(&cl.baseURL, "base-url", "", "URL base del API de autenticación (pisa api.base_url)")
	root.PersistentFlags().StringVar(&cl.out, "out", cl.out, "Formato de salida: json|text")
	root.PersistentFlags().BoolVarP(&cl.verbose, "verbose", "v", false, "Logs de debug")

	// Los comandos de sesión comparten el bootstrap; mock-server no.
	withSession := func(cmd *cobra.Command) *cobra.Command {
		cmd.PreRunE = func(cmd *cobra.Command, args []string) error { return cl.bootstrap(cmd.Context()) }
		return cmd
	}

	root.AddCommand(
		withSession(cl.loginCmd()),
		withSession(cl.logoutCmd()),
		withSession(cl.whoamiCmd()),
		withSession(cl.statusCmd()),
		withSession(cl.canCmd()),
		withSession(cl.getCmd()),
		withSession(cl.pollCmd()),
		cl.mockServerCmd(),
	)
	return root, cl
}

// bootstrap carga config, logger y contenedor, y restaura la sesión persistida.
func (cl *cli) bootstrap(ctx context.Context) error {
	cfg, err := config.Load(cl.configPath)
	if err != nil {
		return err
	}
	if cl.baseURL != "" {
		cfg.API.BaseURL = cl.baseURL
	}
	if cl.verbose {
		cfg.Log.Level = "debug"
	}
	logger.Init(logger.Config{
		Env:         cfg.App.Env,
		Level:       cfg.Log.Level,
		ServiceName: "sessionctl",
		OutputPaths: []string{"stderr"},
	})

	c, err := app.New(cfg, app.Options{Logger: logger.L()})
	if err != nil {
		return err
	}
	cl.c = c
	return c.Start(ctx)
}

func (cl *cli) shutdown() {
	if cl.c != nil {
		_ = cl.c.Close()
		cl.c = nil
	}
	_ = logger.Sync()
}
