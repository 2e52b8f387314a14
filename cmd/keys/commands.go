package main

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/dropDatabas3/keyregistry/internal/config"
	"github.com/dropDatabas3/keyregistry/internal/domain/repository"
	jwtx "github.com/dropDatabas3/keyregistry/internal/jwt"
	"github.com/dropDatabas3/keyregistry/internal/metrics"
	"github.com/dropDatabas3/keyregistry/internal/observability/logger"
	"github.com/dropDatabas3/keyregistry/internal/registry"
	"github.com/dropDatabas3/keyregistry/internal/store"
)

type storeOpener func(ctx context.Context, cfg *config.Config) (*store.Keyspaces, error)

// cli mantiene el estado compartido entre subcomandos.
type cli struct {
	open storeOpener
	w    io.Writer

	configPath string
	envFile    string
	tenant     string
	outFormat  string // "json" | "text"

	cfg *config.Config
	ks  *store.Keyspaces
	tk  repository.TenantKeyspace
	reg *registry.Registry
}

func newRootCmd(open storeOpener, w io.Writer) *cobra.Command {
	c := &cli{
		open:      open,
		w:         w,
		envFile:   ".env",
		outFormat: "text",
	}

	root := &cobra.Command{
		Use:               "keys",
		Short:             "Registro de claves de firma por tenant",
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: c.setup,
	}
	root.SetOut(w)

	root.PersistentFlags().StringVar(&c.configPath, "config", "", "ruta a config.yaml (default configs/config.yaml si existe)")
	root.PersistentFlags().StringVar(&c.envFile, "env-file", c.envFile, "ruta a .env (se ignora si no existe)")
	root.PersistentFlags().StringVar(&c.tenant, "tenant", c.tenant, "slug del tenant (env KEYS_TENANT)")
	root.PersistentFlags().StringVar(&c.outFormat, "out", c.outFormat, "formato de salida: json|text")

	root.AddCommand(
		c.provisionCmd(),
		c.provisionedCmd(),
		c.createCmd(),
		c.getCmd(),
		c.listCmd(),
		c.deleteCmd(),
		c.rotateCmd(),
		c.jwksCmd(),
		c.inspectCmd(),
	)
	// cobra no corre PersistentPostRunE si RunE falla: el cierre va en cada RunE
	for _, sub := range root.Commands() {
		c.closeAfter(sub)
	}
	return root
}

func (c *cli) closeAfter(cmd *cobra.Command) {
	run := cmd.RunE
	if run == nil {
		return
	}
	cmd.RunE = func(cmd *cobra.Command, args []string) (err error) {
		defer func() {
			if cerr := c.teardown(); err == nil {
				err = cerr
			}
		}()
		return run(cmd, args)
	}
}

func (c *cli) setup(cmd *cobra.Command, args []string) error {
	if c.envFile != "" {
		_ = godotenv.Load(c.envFile)
	}
	// los defaults por env se resuelven después de cargar el .env
	if !cmd.Flags().Changed("tenant") {
		c.tenant = os.Getenv("KEYS_TENANT")
	}
	if !cmd.Flags().Changed("out") {
		c.outFormat = envOr("KEYS_OUT", c.outFormat)
	}
	if c.outFormat != "json" && c.outFormat != "text" {
		return fmt.Errorf("--out debe ser json o text (got %q)", c.outFormat)
	}
	if strings.TrimSpace(c.tenant) == "" {
		return fmt.Errorf("--tenant es requerido (o env KEYS_TENANT)")
	}

	path := c.configPath
	if path == "" && fileExists("configs/config.yaml") {
		path = "configs/config.yaml"
	}
	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config: %w", err)
	}
	c.cfg = cfg

	logger.Init(logger.Config{Env: cfg.App.Env, Level: cfg.Log.Level, ServiceName: "keys"})
	if err := metrics.RegisterSignatures(prometheus.DefaultRegisterer); err != nil {
		return err
	}

	// run_id correlaciona todos los logs de una invocación
	ctx := logger.ToContext(cmd.Context(), logger.L().With(
		logger.String("run_id", uuid.NewString()),
		logger.String("command", cmd.Name()),
	))
	cmd.SetContext(ctx)

	ks, err := c.open(ctx, cfg)
	if err != nil {
		return err
	}
	c.ks = ks

	tk, err := ks.ForTenant(ctx, c.tenant)
	if err != nil {
		_ = c.teardown()
		return err
	}
	c.tk = tk
	c.reg = registry.ForKeyspace(tk, registry.WithKeyGenerator(jwtx.RSAGenerator(cfg.Keys.RSABits)))
	return nil
}

// teardown es idempotente.
func (c *cli) teardown() error {
	_ = logger.Sync()
	if c.ks == nil {
		return nil
	}
	ks := c.ks
	c.ks = nil
	return ks.Close()
}

// ─── output ───

func (c *cli) print(v any, text func(w io.Writer)) error {
	if c.outFormat == "json" {
		enc := json.NewEncoder(c.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	text(c.w)
	return nil
}

func (c *cli) printSet(set *repository.ApplicationSignatureSet) error {
	return c.print(set, func(w io.Writer) {
		fmt.Fprintf(w, "timestamp: %s\n", set.Timestamp)
		fmt.Fprintf(w, "modulus:   %s\n", jwtx.EncodeBase64URL(set.ApplicationSignature.PublicKeyMod.Bytes()))
		fmt.Fprintf(w, "exponent:  %s\n", set.ApplicationSignature.PublicKeyExp.String())
	})
}

// ─── comandos ───

func (c *cli) provisionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provision",
		Short: "Crea el keyspace del tenant (idempotente)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.tk.Provision(cmd.Context()); err != nil {
				return err
			}
			return c.print(map[string]any{"tenant": c.tk.Tenant(), "provisioned": true}, func(w io.Writer) {
				fmt.Fprintf(w, "tenant %s provisioned\n", c.tk.Tenant())
			})
		},
	}
}

func (c *cli) provisionedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "provisioned",
		Short: "Indica si el keyspace del tenant ya existe",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ok, err := c.reg.TenantAlreadyProvisioned(cmd.Context())
			if err != nil {
				return err
			}
			return c.print(map[string]any{"tenant": c.tk.Tenant(), "provisioned": ok}, func(w io.Writer) {
				fmt.Fprintln(w, ok)
			})
		},
	}
}

func (c *cli) createCmd() *cobra.Command {
	var privOut string
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Genera un signature set nuevo",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			// el archivo se abre antes de crear: si no se puede, no queda un set sin privada
			out, err := openPrivateKeyOut(privOut)
			if err != nil {
				return err
			}
			set, priv, err := c.reg.CreateSignatureSet(cmd.Context())
			if err != nil {
				out.discard()
				return err
			}
			if err := out.write(priv); err != nil {
				if derr := c.reg.DeleteSignatureSet(cmd.Context(), set.Timestamp); derr != nil {
					return fmt.Errorf("signature set %s sin privada y no se pudo invalidar: %w", set.Timestamp, errors.Join(err, derr))
				}
				return fmt.Errorf("no se pudo escribir la privada, signature set %s invalidado: %w", set.Timestamp, err)
			}
			return c.printSet(set)
		},
	}
	cmd.Flags().StringVar(&privOut, "private-key-out", "", "archivo PEM (PKCS#8, 0600) donde guardar la privada; única oportunidad de obtenerla")
	return cmd
}

func (c *cli) getCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <key-timestamp>",
		Short: "Muestra un signature set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			set, found, err := c.reg.GetSignatureSet(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("signature set %s no encontrado", args[0])
			}
			return c.printSet(set)
		},
	}
}

func (c *cli) listCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Lista los key timestamps del tenant (ordenados)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tss, err := c.reg.GetAllSignatureSetKeyTimestamps(cmd.Context())
			if err != nil {
				return err
			}
			sort.Strings(tss)
			return c.print(tss, func(w io.Writer) {
				for _, ts := range tss {
					fmt.Fprintln(w, ts)
				}
			})
		},
	}
}

func (c *cli) deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <key-timestamp>",
		Short: "Invalida un signature set (definitivo)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := c.reg.DeleteSignatureSet(cmd.Context(), args[0]); err != nil {
				return err
			}
			return c.print(map[string]any{"deleted": args[0]}, func(w io.Writer) {
				fmt.Fprintf(w, "deleted %s\n", args[0])
			})
		},
	}
}

func (c *cli) rotateCmd() *cobra.Command {
	var privOut string
	cmd := &cobra.Command{
		Use:   "rotate <retire-key-timestamp>",
		Short: "Crea un set nuevo e invalida el indicado",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out, err := openPrivateKeyOut(privOut)
			if err != nil {
				return err
			}
			set, priv, err := c.reg.RotateSignatureSet(cmd.Context(), args[0])
			if set == nil {
				out.discard()
				return err
			}
			if werr := out.write(priv); werr != nil {
				return fmt.Errorf("signature set %s creado pero no se pudo escribir la privada: %w", set.Timestamp, errors.Join(werr, err))
			}
			if err != nil {
				return err
			}
			return c.printSet(set)
		},
	}
	cmd.Flags().StringVar(&privOut, "private-key-out", "", "archivo PEM (PKCS#8, 0600) donde guardar la privada nueva")
	return cmd
}

func (c *cli) jwksCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "jwks",
		Short: "Imprime el JWKS público (RS256) del tenant",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jwks, err := c.reg.PublicJWKS(cmd.Context())
			if err != nil {
				return err
			}
			// JWKS siempre en JSON
			enc := json.NewEncoder(c.w)
			enc.SetIndent("", "  ")
			return enc.Encode(jwks)
		},
	}
}

func (c *cli) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect <key-timestamp>",
		Short: "Muestra fecha de creación y tamaño de la clave de un set",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sig, found, err := c.reg.GetApplicationSignature(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("signature set %s no encontrado", args[0])
			}
			pub, err := jwtx.PublicKeyFromSignature(*sig)
			if err != nil {
				return fmt.Errorf("signature set %s: %w", args[0], err)
			}
			info := map[string]any{
				"timestamp": args[0],
				"bits":      pub.N.BitLen(),
				"exponent":  pub.E,
			}
			// timestamps provistos a mano pueden no tener el formato generado
			created, perr := jwtx.ParseKeyTimestamp(args[0])
			if perr == nil {
				info["created_at"] = created
			}
			return c.print(info, func(w io.Writer) {
				fmt.Fprintf(w, "timestamp: %s\n", args[0])
				if perr == nil {
					fmt.Fprintf(w, "created:   %s\n", created.Format(time.RFC3339Nano))
				}
				fmt.Fprintf(w, "bits:      %d\n", pub.N.BitLen())
				fmt.Fprintf(w, "exponent:  %d\n", pub.E)
			})
		},
	}
}

// ─── helpers ───

// privateKeyOut es el destino PEM de --private-key-out; nil = no se pidió.
type privateKeyOut struct {
	path string
	f    *os.File
}

// openPrivateKeyOut crea el archivo (0600, falla si existe) antes de generar la clave.
func openPrivateKeyOut(path string) (*privateKeyOut, error) {
	if path == "" {
		return nil, nil
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("--private-key-out: %w", err)
	}
	return &privateKeyOut{path: path, f: f}, nil
}

// write escribe la privada como PKCS#8 PEM y cierra el archivo.
func (o *privateKeyOut) write(priv *rsa.PrivateKey) error {
	if o == nil {
		return nil
	}
	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		o.discard()
		return err
	}
	if err := pem.Encode(o.f, &pem.Block{Type: "PRIVATE KEY", Bytes: der}); err != nil {
		o.discard()
		return err
	}
	return o.f.Close()
}

// discard cierra y borra el archivo vacío.
func (o *privateKeyOut) discard() {
	if o == nil {
		return
	}
	_ = o.f.Close()
	_ = os.Remove(o.path)
}

func envOr(k, def string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return def
}

func fileExists(p string) bool {
	_, err := os.Stat(p)
	return err == nil
}
