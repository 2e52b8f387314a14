// keys es la CLI de operación del registro de claves de firma por tenant.
//
//	keys --tenant acme provision
//	keys --tenant acme create --private-key-out acme.pem
//	keys --tenant acme jwks --out json
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/dropDatabas3/keyregistry/internal/config"
	"github.com/dropDatabas3/keyregistry/internal/store"

	// adapters disponibles (se registran en init)
	_ "github.com/dropDatabas3/keyregistry/internal/store/adapters/memory"
	_ "github.com/dropDatabas3/keyregistry/internal/store/adapters/pg"
	_ "github.com/dropDatabas3/keyregistry/internal/store/adapters/redis"
)

func main() {
	root := newRootCmd(openStore, os.Stdout)
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}

// openStore abre el store configurado.
func openStore(ctx context.Context, cfg *config.Config) (*store.Keyspaces, error) {
	return store.Open(ctx, store.FromConfig(cfg))
}
