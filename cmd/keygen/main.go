package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	hdwallet "github.com/miguelmota/go-ethereum-hdwallet"

	"github.com/betbot/tradecore/internal/kms"
	"github.com/betbot/tradecore/pkg/config"
	"github.com/betbot/tradecore/pkg/kvstore"
)

// keygen seeds the key store with a wallet mnemonic and optionally derives controller wallets.
func main() {
	_ = godotenv.Load()

	var (
		configPath = flag.String("config", os.Getenv("TRADECORE_CONFIG"), "YAML config file")
		generate   = flag.Bool("generate", false, "generate a fresh mnemonic instead of reading one from stdin")
		force      = flag.Bool("force", false, "replace an existing mnemonic")
		derive     = flag.Int("derive", 0, "number of controller wallets to derive after storing")
	)
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	if strings.TrimSpace(cfg.KMS.StorePath) == "" {
		fatal(errors.New("kms.store_path is required: set it in the config or KMS_STORE_PATH"))
	}
	key, err := kvstore.ParseKey(cfg.KMS.EncryptionKey)
	if err != nil {
		fatal(err)
	}

	mnemonic := strings.TrimSpace(cfg.KMS.Mnemonic)
	switch {
	case *generate:
		if mnemonic, err = hdwallet.NewMnemonic(128); err != nil {
			fatal(err)
		}
	case mnemonic == "":
		fmt.Fprintln(os.Stderr, "enter the wallet mnemonic (12/15/18/21/24 words), then press enter:")
		mnemonic = readLine()
	}
	if mnemonic == "" {
		fatal(errors.New("mnemonic is empty"))
	}

	store, err := kvstore.Open(kvstore.OpenOptions{Path: cfg.KMS.StorePath, EncryptionKey: key})
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	if err := kms.StoreMnemonic(store, mnemonic, *force); err != nil {
		fatal(err)
	}
	fmt.Fprintf(os.Stderr, "mnemonic stored in %s\n", cfg.KMS.StorePath)
	if *generate {
		fmt.Fprintln(os.Stderr, "write this mnemonic down, it is the only backup of every controller wallet:")
		fmt.Println(mnemonic)
	}

	if *derive <= 0 {
		return
	}
	keys, err := kms.NewLocal(store, "", cfg.Stage, nil)
	if err != nil {
		fatal(err)
	}
	for i := 0; i < *derive; i++ {
		id, err := keys.CreateNewKey(context.Background())
		if err != nil {
			fatal(err)
		}
		fmt.Printf("%s\t%s\n", id.Internal, id.Address)
	}
}

func readLine() string {
	br := bufio.NewReader(os.Stdin)
	s, _ := br.ReadString('\n')
	return strings.TrimSpace(s)
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, "error:", err.Error())
	os.Exit(1)
}
