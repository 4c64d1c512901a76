package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/dropDatabas3/sessionkit/internal/authtest"
	"github.com/dropDatabas3/sessionkit/internal/domain/types"
	"github.com/dropDatabas3/sessionkit/internal/guard"
	"github.com/dropDatabas3/sessionkit/internal/observability/logger"
	"github.com/dropDatabas3/sessionkit/internal/session"
	"github.com/dropDatabas3/sessionkit/internal/util"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"
)

func (cl *cli) loginCmd() *cobra.Command {
	var identifier, secret, code string
	var remember bool
	cmd := &cobra.Command{
		Use:   "login",
		Short: "Inicia sesión (pide el código MFA si el servidor lo exige)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if identifier == "" {
				return fmt.Errorf("--identifier es requerido")
			}
			if secret == "" {
				secret = os.Getenv("SESSIONCTL_SECRET")
			}
			if secret == "" && term.IsTerminal(int(os.Stdin.Fd())) {
				fmt.Fprint(os.Stderr, "Password: ")
				b, err := term.ReadPassword(int(os.Stdin.Fd()))
				fmt.Fprintln(os.Stderr)
				if err != nil {
					return fmt.Errorf("leer password: %w", err)
				}
				secret = string(b)
			}
			if secret == "" {
				return fmt.Errorf("--secret es requerido (o env SESSIONCTL_SECRET)")
			}

			res, err := cl.c.Session.Login(ctx, types.Credentials{Identifier: identifier, Secret: secret, RememberMe: remember})
			if err != nil {
				return err
			}
			if res.RequiresMfa() {
				if code == "" {
					if code, err = prompt(fmt.Sprintf("Código MFA (%s): ", methods(res.Challenge))); err != nil {
						cl.c.Session.CancelMfa()
						return err
					}
				}
				if res, err = cl.c.Session.VerifyMfa(ctx, res.Challenge.ID, code); err != nil {
					return err
				}
			}
			return cl.print(res.User, fmt.Sprintf("ok: %s (%s)", res.User.DisplayName, res.User.ID))
		},
	}
	cmd.Flags().StringVar(&identifier, "identifier", "", "Email o usuario")
	cmd.Flags().StringVar(&secret, "secret", "", "Password (env SESSIONCTL_SECRET; si falta se pide sin eco)")
	cmd.Flags().StringVar(&code, "code", "", "Código MFA (si no se pasa y hace falta, se pide por stdin)")
	cmd.Flags().BoolVar(&remember, "remember", false, "Recordar sesión")
	return cmd
}

func (cl *cli) logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Cierra la sesión local e invalida el refresh token en el servidor",
		RunE: func(cmd *cobra.Command, args []string) error {
			cl.c.Session.Logout(cmd.Context())
			return cl.print(map[string]any{"ok": true}, "ok")
		},
	}
}

func (cl *cli) whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Muestra el perfil del usuario (GET /auth/me)",
		RunE: func(cmd *cobra.Command, args []string) error {
			u, err := cl.c.Session.ReloadUser(cmd.Context())
			if err != nil {
				return err
			}
			return cl.print(u, fmt.Sprintf("%s <%s> roles=%s perms=%s",
				u.DisplayName, u.Email, strings.Join(u.Roles, ","), strings.Join(u.Permissions, ",")))
		},
	}
}

type statusView struct {
	State       string    `json:"state"`
	UserID      string    `json:"userId,omitempty"`
	AccessToken string    `json:"accessToken,omitempty"`
	ExpiresAt   string `json:"expiresAt,omitempty"`
}

func (cl *cli) statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Estado de la sesión persistida (sin red)",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := cl.c.Session.Snapshot()
			v := statusView{State: snap.State.String()}
			if snap.User != nil {
				v.UserID = snap.User.ID
			}
			if pair, _, ok := cl.c.Session.Tokens(); ok {
				v.AccessToken = util.MaskToken(pair.AccessToken)
				if !pair.AccessTokenExpiry.IsZero() {
					v.ExpiresAt = pair.AccessTokenExpiry.Format(time.RFC3339)
				}
			}
			text := v.State
			if v.UserID != "" {
				text += " user=" + v.UserID
			}
			if v.ExpiresAt != "" {
				text += " expires=" + v.ExpiresAt
			}
			return cl.print(v, text)
		},
	}
}

func (cl *cli) canCmd() *cobra.Command {
	var roles, perms []string
	var mode string
	cmd := &cobra.Command{
		Use:   "can",
		Short: "Evalúa una política de roles/permisos contra la sesión actual",
		RunE: func(cmd *cobra.Command, args []string) error {
			mm, err := guard.ParseMatchMode(mode)
			if err != nil {
				return err
			}
			d := cl.c.Guard.Check(guard.Policy{RequiredRoles: roles, RequiredPermissions: perms, MatchMode: mm})
			if err := cl.print(map[string]any{"decision": d.String()}, d.String()); err != nil {
				return err
			}
			if d != guard.Allow {
				return errDenied
			}
			return nil
		},
	}
	cmd.Flags().StringSliceVar(&roles, "role", nil, "Rol requerido (repetible o separado por comas)")
	cmd.Flags().StringSliceVar(&perms, "perm", nil, "Permiso requerido (repetible o separado por comas)")
	cmd.Flags().StringVar(&mode, "mode", "any", "any|all")
	return cmd
}

var errDenied = errors.New("denied")

func (cl *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <path>",
		Short: "GET protegido contra el API (adjunta bearer y refresca si hace falta)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var out any
			if err := cl.c.Gateway.GetJSON(cmd.Context(), args[0], &out); err != nil {
				return err
			}
			return cl.printJSON(out)
		},
	}
}

func (cl *cli) pollCmd() *cobra.Command {
	var every time.Duration
	var count int
	cmd := &cobra.Command{
		Use:   "poll <path>",
		Short: "Repite un GET protegido cada --every (como un dashboard)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if every <= 0 {
				return fmt.Errorf("--every debe ser > 0")
			}
			ctx := cmd.Context()
			log := logger.L().With(logger.Component("poll"))
			if addr := cl.c.Config.Metrics.Addr; addr != "" {
				stop := serveMetrics(ctx, cl, addr)
				defer stop()
			}

			t := time.NewTicker(every)
			defer t.Stop()
			for i := 0; count <= 0 || i < count; i++ {
				var out any
				err := cl.c.Gateway.GetJSON(ctx, args[0], &out)
				switch {
				case err == nil:
					fmt.Fprintf(cl.stdout, "%s ok %s\n", time.Now().Format(time.TimeOnly), cl.c.Session.State())
				case errors.Is(err, context.Canceled):
					return nil
				default:
					log.Warn("poll failed", logger.Attempt(i+1), logger.Err(err))
					if cl.c.Session.State() == session.Unauthenticated {
						return err
					}
				}
				if count > 0 && i == count-1 {
					break
				}
				select {
				case <-ctx.Done():
					return nil
				case <-t.C:
				}
			}
			return nil
		},
	}
	cmd.Flags().DurationVar(&every, "every", 10*time.Second, "Intervalo entre llamadas")
	cmd.Flags().IntVar(&count, "count", 0, "Cantidad de llamadas (0 = hasta Ctrl-C)")
	return cmd
}

// serveMetrics expone el registry del contenedor en addr hasta que ctx termine.
func serveMetrics(ctx context.Context, cl *cli, addr string) func() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(cl.c.Registry, promhttp.HandlerOpts{}))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.L().Warn("metrics server failed", logger.Err(err))
		}
	}()
	return func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
	}
}

func (cl *cli) mockServerCmd() *cobra.Command {
	var addr string
	var accessTTL time.Duration
	cmd := &cobra.Command{
		Use:   "mock-server",
		Short: "Levanta un servidor de autenticación en memoria con usuarios demo",
		RunE: func(cmd *cobra.Command, args []string) error {
			lvl := "info"
			if cl.verbose {
				lvl = "debug"
			}
			logger.Init(logger.Config{Env: "dev", Level: lvl, ServiceName: "mock-server"})
			log := logger.L()

			srv := authtest.New(authtest.WithAccessTTL(accessTTL))
			srv.SeedDemo()
			hs := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 5 * time.Second}

			errc := make(chan error, 1)
			go func() { errc <- hs.ListenAndServe() }()
			log.Info("mock auth server listening",
				zap.String("addr", addr),
				zap.Strings("demo_users", []string{"ana@example.com", "bruno@example.com"}),
				zap.String("mfa_code", authtest.DefaultMfaCode),
			)

			select {
			case err := <-errc:
				return err
			case <-cmd.Context().Done():
				sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return hs.Shutdown(sctx)
			}
		},
	}
	cmd.Flags().StringVar(&addr, "addr", envOr("MOCK_ADDR", ":8081"), "Dirección de escucha")
	cmd.Flags().DurationVar(&accessTTL, "access-ttl", 2*time.Minute, "Vida de los access tokens emitidos")
	return cmd
}

func methods(c *types.MfaChallenge) string {
	out := make([]string, 0, len(c.AllowedMethods))
	for _, m := range c.AllowedMethods {
		out = append(out, string(m))
	}
	return strings.Join(out, "/")
}

func prompt(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", fmt.Errorf("leer código: %w", err)
	}
	return strings.TrimSpace(line), nil
}
