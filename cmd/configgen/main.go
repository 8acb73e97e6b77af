package main

import (
	"flag"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/danmuck/sealwire/internal/config"
	"github.com/danmuck/sealwire/internal/logging"
	"github.com/danmuck/sealwire/internal/protocol/keyx"
)

func main() {
	kind := flag.String("kind", "server", "config kind: server|client")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to <kind>.toml)")
	keygen := flag.String("keygen", "", "write a new RSA private key PEM to this path")
	force := flag.Bool("force", false, "overwrite existing files")
	flag.Parse()
	logging.ConfigureRuntime()

	if *keygen != "" {
		if err := writeKey(*keygen, *force); err != nil {
			log.Fatal().Err(err).Msg("keygen failed")
		}
		log.Info().Str("path", *keygen).Msg("wrote private key")
		return
	}

	if *validate {
		path := *input
		if path == "" {
			path = *kind + ".toml"
		}
		if _, err := config.Load(path); err != nil {
			log.Fatal().Err(err).Msg("config invalid")
		}
		log.Info().Str("kind", *kind).Str("path", path).Msg("validated config")
		return
	}

	target := *output
	if target == "" {
		target = *kind + ".toml"
	}
	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal().Err(err).Msg("write template failed")
	}
	log.Info().Str("kind", *kind).Str("path", target).Msg("wrote config template")
}

func writeKey(path string, overwrite bool) error {
	kp, err := keyx.GenerateKeyPair(keyx.Default())
	if err != nil {
		return err
	}
	defer kp.Destroy()
	data, err := keyx.ExportPrivateKeyPEM(kp)
	if err != nil {
		return err
	}
	flags := os.O_WRONLY | os.O_CREATE | os.O_TRUNC
	if !overwrite {
		flags |= os.O_EXCL
	}
	f, err := os.OpenFile(path, flags, 0o600)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
