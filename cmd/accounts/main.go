package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout, prometheus.DefaultRegisterer); err != nil {
		fmt.Fprintf(os.Stderr, "accounts: %v\n", err)
		os.Exit(1)
	}
}

func usage(w io.Writer) {
	fmt.Fprintln(w, `usage: accounts <command> [flags]

commands:
  migrate             apply database migrations
  register            create an account waiting for activation
  activate            activate an account without a code
  resend-activation   issue a new activation code
  reset-password      issue a password recovery code
  change-email        request an e-mail change
  confirm             check a code and apply the transition it guards

configuration is read from ACCOUNTS_* environment variables`)
}
