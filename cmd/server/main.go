package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"boxci/internal/core"
	"boxci/internal/history"
	"boxci/internal/publish"
	"boxci/internal/storage"
	"boxci/internal/trigger"
)

func initConfig(cfgFile string) {
	viper.SetDefault("listen", ":8080")
	viper.SetDefault("log_dir", "./logs")
	viper.SetDefault("results_dir", "./results")
	viper.SetDefault("journal", "./runs.jsonl")
	viper.SetDefault("max_parallel", 0)
	viper.SetDefault("tick_interval", 30*time.Second)

	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("boxci-server")
	}

	viper.SetEnvPrefix("BOXCI")
	viper.AutomaticEnv() // read in environment variables that match

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func main() {
	cfgFile := pflag.String("config", "", "config file (default is ./boxci-server.yaml)")
	debug := pflag.Bool("debug", false, "enable debug logging")
	pflag.Parse()

	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	initConfig(*cfgFile)

	journal, err := history.Open(viper.GetString("journal"))
	if err != nil {
		log.Fatal().Err(err).Msg("cannot open run journal")
	}

	registry := core.DefaultTaskRegistry(publish.NewDirPublisher(viper.GetString("results_dir")))
	runner := core.NewJobRunner(core.NewExecutor(registry), storage.NewLogStorage(viper.GetString("log_dir")))
	dispatcher := core.NewDispatcher(runner, core.NewPool(viper.GetInt("max_parallel")))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := NewServer(dispatcher, trigger.NewEngine(), journal)
	go srv.RunTriggerLoop(ctx, viper.GetDuration("tick_interval"))

	addr := viper.GetString("listen")
	httpSrv := &http.Server{Addr: addr, Handler: srv.Routes()}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("shutdown did not finish cleanly")
		}
	}()

	log.Info().Str("addr", addr).Msg("boxci server listening")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("server stopped")
	}
}
