// Command civic is a terminal exercise of the client SDK: register or log in
// against a running backend, watch session transitions, and poke the token
// lifecycle by hand.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"strings"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/civickit/go-civic-client/api"
	"github.com/civickit/go-civic-client/auth"
	"github.com/civickit/go-civic-client/internal/config"
	"github.com/civickit/go-civic-client/session"
	"github.com/civickit/go-civic-client/token"
	"github.com/civickit/go-civic-client/token/keyringstore"
	"github.com/civickit/go-civic-client/transport"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			fmt.Printf("Recovered from panic: %v\n", r)
			debug.PrintStack()
			returnError = errors.New("panic recovered")
		}
	}()

	_ = godotenv.Load()
	cfg := config.New()
	displayAppname(cfg.GetAppName())

	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	if cfg.GetEnv() != "DEV" {
		logger = logger.Level(zerolog.InfoLevel)
	}

	store := token.NewStore(keyringstore.New(), logger)
	client := transport.New(cfg, store, logger)
	service, err := auth.NewService(auth.Deps{Client: client, Store: store}, cfg, logger)
	if err != nil {
		return err
	}

	controller := session.NewController(service, cfg, logger)
	if err := controller.Subscribe(func(s session.State) {
		logger.Info().Stringer("status", s.Status).Bool("initialized", s.Initialized).Msg("session changed")
	}); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go waitForStopSignal(cancel)

	controller.Start(ctx)
	defer controller.Stop()

	return repl(ctx, controller, service)
}

func repl(ctx context.Context, controller *session.Controller, service *auth.Service) error {
	fmt.Println("commands: login <email> <password> | register <name> <email> <password> | whoami | refresh | logout | status | quit")
	scanner := bufio.NewScanner(os.Stdin)

	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		controller.Touch()

		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "login":
			if len(fields) != 3 {
				fmt.Println("usage: login <email> <password>")
				continue
			}
			if err := controller.Login(ctx, api.LoginRequest{Email: fields[1], Password: fields[2]}); err != nil {
				fmt.Printf("login failed: %s\n", err)
			}
		case "register":
			if len(fields) != 4 {
				fmt.Println("usage: register <name> <email> <password>")
				continue
			}
			req := api.RegisterRequest{Name: fields[1], Email: fields[2], Password: fields[3]}
			if err := controller.Register(ctx, req); err != nil {
				fmt.Printf("register failed: %s\n", err)
			}
		case "whoami":
			user, err := service.CurrentUser(ctx)
			if err != nil {
				fmt.Printf("whoami failed: %s\n", err)
				continue
			}
			fmt.Printf("%s <%s> role=%s\n", user.Name, user.Email, user.Role)
		case "refresh":
			controller.RefreshSession(ctx)
		case "logout":
			controller.Logout(ctx)
		case "status":
			state := controller.State()
			fmt.Printf("status=%s initialized=%t", state.Status, state.Initialized)
			if state.User != nil {
				fmt.Printf(" user=%s", state.User.Email)
			}
			if state.Err != "" {
				fmt.Printf(" err=%q", state.Err)
			}
			fmt.Println()
		case "quit", "exit":
			return nil
		default:
			fmt.Printf("unknown command %q\n", fields[0])
		}
	}
}

func waitForStopSignal(cancel context.CancelFunc) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	cancel()
	os.Exit(0)
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
