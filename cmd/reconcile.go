package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jekabolt/sales-rollup/app"
	"github.com/jekabolt/sales-rollup/config"
	"github.com/jekabolt/sales-rollup/internal/dto"
	"github.com/jekabolt/sales-rollup/internal/entity"
	"github.com/jekabolt/sales-rollup/log"
	"github.com/spf13/cobra"
)

var (
	reconcileAccount string
	reconcileStart   string
	reconcileEnd     string

	reconcileCmd = &cobra.Command{
		Use:     "reconcile",
		Short:   "Reconcile one account's date range and print the daily rollups as JSON",
		Example: "  sales-rollup reconcile --account main --start 2024-03-01 --end 2024-03-31",
		RunE:    reconcile,
	}
)

func init() {
	reconcileCmd.Flags().StringVarP(&reconcileAccount, "account", "a", "", "account id (defaults to the only configured account)")
	reconcileCmd.Flags().StringVar(&reconcileStart, "start", "", "first merchant-local day, YYYY-MM-DD")
	reconcileCmd.Flags().StringVar(&reconcileEnd, "end", "", "last merchant-local day, YYYY-MM-DD")
	_ = reconcileCmd.MarkFlagRequired("start")
	_ = reconcileCmd.MarkFlagRequired("end")
}

func reconcile(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("cannot load a config %v", err.Error())
	}
	// stdout carries the result
	slog.SetDefault(log.New(cfg.Logger, os.Stderr))

	acc, err := pickAccount(entity.Accounts(cfg.Accounts), reconcileAccount)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, _ := app.NewEngine(cfg)
	res, err := engine.Reconcile(ctx, acc, reconcileStart, reconcileEnd)
	if err != nil {
		return fmt.Errorf("reconcile %s: %w", acc.Id, err)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(dto.ConvertReconciliationResult(res))
}

func pickAccount(accounts entity.Accounts, id string) (*entity.Account, error) {
	if id != "" {
		return accounts.Find(id)
	}
	switch len(accounts) {
	case 0:
		return nil, fmt.Errorf("no accounts configured")
	case 1:
		return &accounts[0], nil
	default:
		return nil, fmt.Errorf("%d accounts configured, choose one with --account", len(accounts))
	}
}
