package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/goliatone/go-accounts"
	"github.com/goliatone/go-accounts/adapters/natsevents"
	"github.com/goliatone/go-accounts/metrics"
	"github.com/goliatone/go-accounts/notifier"
	"github.com/goliatone/go-accounts/repository"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/uptrace/bun"
)

type app struct {
	cfg     *accounts.Config
	db      *bun.DB
	store   *repository.Store
	manager *accounts.AccountManager
	nc      *nats.Conn
	logger  accounts.Logger
	out     io.Writer
}

func run(ctx context.Context, args []string, out io.Writer, reg prometheus.Registerer) error {
	if len(args) == 0 {
		usage(out)
		return nil
	}

	switch args[0] {
	case "help", "-h", "--help":
		usage(out)
		return nil
	}

	cfg, err := accounts.LoadConfig(ctx)
	if err != nil {
		return err
	}

	a, err := newApp(ctx, cfg, out, reg)
	if err != nil {
		return err
	}
	defer a.Close()

	cmd, rest := args[0], args[1:]
	switch cmd {
	case "migrate":
		return a.migrate(ctx)
	case "register":
		return a.register(ctx, rest)
	case "activate":
		return a.activate(ctx, rest)
	case "resend-activation":
		return a.resendActivation(ctx, rest)
	case "reset-password":
		return a.resetPassword(ctx, rest)
	case "change-email":
		return a.changeEmail(ctx, rest)
	case "confirm":
		return a.confirm(ctx, rest)
	default:
		usage(out)
		return goerrors.New("unknown command", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"command": cmd})
	}
}

func newApp(ctx context.Context, cfg *accounts.Config, out io.Writer, reg prometheus.Registerer) (*app, error) {
	base := glog.NewLogger(
		glog.WithName("accounts"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)
	provider := accounts.LoggerProviderFunc(func(name string) accounts.Logger {
		return base.GetLogger(name)
	})
	logger := accounts.ResolveLogger("accounts.cli", provider, nil)

	db, err := repository.Open(ctx, cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, err
	}

	a := &app{
		cfg:    cfg,
		db:     db,
		store:  repository.NewStore(db),
		logger: logger,
		out:    out,
	}

	if cfg.Database.Migrate {
		if err := repository.Migrate(ctx, db, cfg.Database.Driver); err != nil {
			a.Close()
			return nil, err
		}
	}

	encoder, err := accounts.NewPasswordEncoder(cfg.PasswordEncoder)
	if err != nil {
		a.Close()
		return nil, err
	}

	dispatcher := accounts.NewDispatcher(
		accounts.WithFailurePolicy(cfg.FailurePolicy()),
		accounts.WithDispatcherLogger(provider.GetLogger("accounts.dispatcher")),
	)

	collector := metrics.NewCollector(reg, cfg.Metrics.Namespace)
	dispatcher.SubscribeAll(collector)

	mailer, err := notifier.New(a.sender(),
		notifier.WithFrom(cfg.Mail.From),
		notifier.WithBaseURL(cfg.Mail.BaseURL),
		notifier.WithRetries(cfg.Mail.Retries, notifier.DefaultRetryDelay),
		notifier.WithLogger(provider.GetLogger("accounts.notifier")),
	)
	if err != nil {
		a.Close()
		return nil, err
	}
	mailer.Register(dispatcher)

	if cfg.NATS.URL != "" {
		natsLogger := provider.GetLogger("accounts.natsevents")
		nc, err := natsevents.Connect(cfg.NATS.URL, natsLogger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.nc = nc
		dispatcher.SubscribeAll(natsevents.NewPublisher(nc,
			natsevents.WithSubjectPrefix(cfg.NATS.SubjectPrefix),
			natsevents.WithLogger(natsLogger),
		))
	}

	a.manager = accounts.NewAccountManager(a.store, encoder, dispatcher,
		accounts.WithManagerLoggerProvider(provider),
		accounts.WithManagerTimeout(cfg.Timeout),
		accounts.WithVerificationObserver(collector),
	)

	return a, nil
}

func (a *app) sender() notifier.Sender {
	if a.cfg.Mail.SMTPAddr == "" {
		return notifier.LogSender{Logger: a.logger}
	}
	return notifier.SMTPSender{
		Addr:     a.cfg.Mail.SMTPAddr,
		Username: a.cfg.Mail.SMTPUsername,
		Password: a.cfg.Mail.SMTPPassword,
	}
}

// Close releases the database and broker connections.
func (a *app) Close() {
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			a.logger.Warn("failed to drain nats connection", "error", err)
		}
	}
	if a.db != nil {
		if err := a.db.Close(); err != nil {
			a.logger.Warn("failed to close database", "error", err)
		}
	}
}

func (a *app) migrate(ctx context.Context) error {
	if err := repository.Migrate(ctx, a.db, a.cfg.Database.Driver); err != nil {
		return err
	}
	fmt.Fprintln(a.out, "migrations applied")
	return nil
}

func (a *app) register(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("register", flag.ContinueOnError)
	fs.SetOutput(a.out)
	name := fs.String("name", "", "display name")
	email := fs.String("email", "", "e-mail address")
	password := fs.String("password", "", "initial password")
	showCode := fs.Bool("show-code", false, "print the activation code value")
	if err := fs.Parse(args); err != nil {
		return err
	}

	account, err := a.manager.Register(ctx, &accounts.Account{Name: *name, Email: *email}, *password)
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "account %s registered (%s)\n", account.ID, account.Status)
	a.printCode(account.CodeFor(accounts.PurposeActivation), *showCode)
	return nil
}

func (a *app) activate(ctx context.Context, args []string) error {
	account, _, err := a.accountFromFlags(ctx, "activate", args)
	if err != nil {
		return err
	}

	if _, err := a.manager.Activate(ctx, account); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "account %s activated\n", account.ID)
	return nil
}

func (a *app) resendActivation(ctx context.Context, args []string) error {
	account, showCode, err := a.accountFromFlags(ctx, "resend-activation", args)
	if err != nil {
		return err
	}

	code, err := a.manager.ResendActivation(ctx, account)
	if err != nil {
		return err
	}
	a.printCode(code, showCode)
	return nil
}

func (a *app) resetPassword(ctx context.Context, args []string) error {
	account, showCode, err := a.accountFromFlags(ctx, "reset-password", args)
	if err != nil {
		return err
	}

	code, err := a.manager.RequestPasswordReset(ctx, account)
	if err != nil {
		return err
	}
	a.printCode(code, showCode)
	return nil
}

func (a *app) changeEmail(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("change-email", flag.ContinueOnError)
	fs.SetOutput(a.out)
	email := fs.String("email", "", "current e-mail address")
	newEmail := fs.String("new-email", "", "requested e-mail address")
	showCode := fs.Bool("show-code", false, "print the code value")
	if err := fs.Parse(args); err != nil {
		return err
	}

	account, err := a.store.Accounts().FindByEmail(ctx, *email)
	if err != nil {
		return err
	}

	changed, code, err := a.manager.RequestEmailChange(ctx, account, *newEmail)
	if err != nil {
		return err
	}
	if !changed {
		fmt.Fprintln(a.out, "e-mail unchanged")
		return nil
	}
	a.printCode(code, *showCode)
	return nil
}

func (a *app) confirm(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("confirm", flag.ContinueOnError)
	fs.SetOutput(a.out)
	checker := fs.String("checker", "", "code id")
	purpose := fs.String("purpose", string(accounts.PurposeActivation), "code purpose")
	value := fs.String("code", "", "code value")
	password := fs.String("password", "", "new password, for remember_password codes")
	if err := fs.Parse(args); err != nil {
		return err
	}

	id, err := uuid.Parse(*checker)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryBadInput, "invalid checker id")
	}

	p := accounts.Purpose(*purpose)
	if !p.Valid() {
		return goerrors.New("unknown code purpose", goerrors.CategoryBadInput).
			WithMetadata(map[string]any{"purpose": *purpose})
	}
	if p == accounts.PurposeRememberPassword && *password == "" {
		return goerrors.New("a new password is required", goerrors.CategoryBadInput)
	}

	account, err := a.manager.ConfirmCodeByID(ctx, id, p, *value)
	if err != nil {
		return err
	}
	if account == nil {
		return goerrors.New("code does not match", goerrors.CategoryBadInput)
	}

	switch p {
	case accounts.PurposeActivation:
		_, err = a.manager.Activate(ctx, account)
	case accounts.PurposeRememberPassword:
		_, err = a.manager.ChangePassword(ctx, account, *password)
	case accounts.PurposeChangeEmail:
		var changed bool
		changed, err = a.manager.ConfirmEmailChange(ctx, account)
		if err == nil && !changed {
			err = goerrors.New("no pending e-mail change", goerrors.CategoryNotFound)
		}
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(a.out, "account %s: %s confirmed\n", account.ID, p)
	return nil
}

func (a *app) accountFromFlags(ctx context.Context, name string, args []string) (*accounts.Account, bool, error) {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(a.out)
	email := fs.String("email", "", "account e-mail address")
	showCode := fs.Bool("show-code", false, "print the code value")
	if err := fs.Parse(args); err != nil {
		return nil, false, err
	}

	account, err := a.store.Accounts().FindByEmail(ctx, *email)
	if err != nil {
		return nil, false, err
	}
	return account, *showCode, nil
}

func (a *app) printCode(code *accounts.VerificationCode, show bool) {
	if code == nil {
		return
	}
	if show {
		fmt.Fprintf(a.out, "%s code %s: %s\n", code.Purpose, code.ID, code.Code)
		return
	}
	fmt.Fprintf(a.out, "%s code %s issued\n", code.Purpose, code.ID)
}
