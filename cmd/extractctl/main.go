// Команда extractctl — интерактивная консольная выгрузка: проводит номер
// по шагам авторизации (код, при необходимости облачный пароль) и сохраняет
// группы и контакты в локальное хранилище и CSV-файлы.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"golang.org/x/term"

	"telegram-extractor/internal/authflow"
	"telegram-extractor/internal/extract"
	"telegram-extractor/internal/infra/config"
	"telegram-extractor/internal/infra/logger"
	"telegram-extractor/internal/infra/pr"
	"telegram-extractor/internal/infra/ratelimit"
	"telegram-extractor/internal/infra/storage"
	"telegram-extractor/internal/store"
	tgclient "telegram-extractor/internal/telegram"
)

const appVersion = "0.3.0"

func main() {
	envPath := flag.String("env", ".env", "путь к .env файлу")
	outDir := flag.String("out", "export", "каталог для CSV-файлов")
	dump := flag.Bool("dump", false, "напечатать выгруженные записи в консоль")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	env := config.Env()
	logger.Init(env.LogLevel)

	if err := pr.Init(); err != nil {
		fmt.Fprintln(os.Stderr, "readline:", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		pr.InterruptReadline()
	}()

	if err := run(ctx, env, *outDir, *dump); err != nil {
		pr.ErrPrintln("error:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, env config.EnvConfig, outDir string, dump bool) error {
	// CLI всегда работает с локальным bbolt: не требует поднятого Postgres.
	bs, err := store.OpenBolt(env.BoltFile)
	if err != nil {
		return err
	}
	defer bs.Close()

	pool := tgclient.NewPool(tgclient.Options{
		ThrottleRPS: env.ThrottleRPS,
		TestDC:      env.TestDC,
		IdleTimeout: time.Duration(env.ClientIdleSec) * time.Second,
		AppVersion:  appVersion,
	})
	defer pool.Close()

	limiter := ratelimit.New(env.RateLimitMax, time.Duration(env.RateLimitWindowSec)*time.Second)
	flow := authflow.New(bs, tgclient.NewConnector(pool), limiter)
	service := extract.NewService(flow, bs)

	phone, err := prompt("Phone number (E.164): ")
	if err != nil {
		return err
	}

	if err := login(ctx, flow, phone); err != nil {
		return err
	}

	// Консоль выгружает оба вида подряд.
	groups, err := service.Extract(ctx, phone, extract.KindGroups)
	if err != nil {
		return err
	}
	contacts, err := service.Extract(ctx, phone, extract.KindContacts)
	if err != nil {
		return err
	}
	result := extract.Result{Groups: groups.Groups, Contacts: contacts.Contacts}
	pr.Printf("Extracted %d groups and %d contacts\n", len(result.Groups), len(result.Contacts))

	if dump {
		pr.PP(result)
	}
	return writeCSV(outDir, result)
}

// login доводит номер до авторизованного состояния. Уже авторизованный номер
// проходит без единого вопроса.
func login(ctx context.Context, flow *authflow.Flow, phone string) error {
	authenticated, err := flow.CheckSession(ctx, phone)
	if err != nil {
		return err
	}
	if authenticated {
		pr.Println("Already authenticated")
		return nil
	}

	apiIDRaw, err := prompt("API ID: ")
	if err != nil {
		return err
	}
	apiID, err := strconv.Atoi(apiIDRaw)
	if err != nil {
		return &authflow.InputError{Field: "apiId", Reason: "must be a positive integer"}
	}
	apiHash, err := prompt("API hash: ")
	if err != nil {
		return err
	}

	sent, err := flow.RequestCode(ctx, phone, apiID, apiHash)
	if err != nil {
		return err
	}
	if sent.PhoneRegistered {
		pr.Println("Verification code sent")
	} else {
		pr.Println("Verification code sent (number is not registered yet)")
	}

	code, err := prompt("Code: ")
	if err != nil {
		return err
	}
	result, err := flow.VerifyCode(ctx, phone, code)
	if err != nil {
		return err
	}

	if result.Requires2FA {
		pr.Print("2FA password: ")
		passwordBytes, err := term.ReadPassword(syscall.Stdin)
		pr.Println()
		if err != nil {
			return err
		}
		if result, err = flow.VerifyTwoFactor(ctx, phone, string(passwordBytes)); err != nil {
			return err
		}
	}
	if !result.Authenticated {
		return authflow.ErrNotAuthenticated
	}
	pr.Println("Authenticated")
	return nil
}

// writeCSV атомарно сохраняет обе выгрузки в каталог назначения.
func writeCSV(outDir string, result extract.Result) error {
	groups, err := extract.GroupsCSV(result.Groups)
	if err != nil {
		return err
	}
	contacts, err := extract.ContactsCSV(result.Contacts)
	if err != nil {
		return err
	}

	groupsPath := filepath.Join(outDir, "groups.csv")
	if err := storage.AtomicWriteFile(groupsPath, groups); err != nil {
		return err
	}
	contactsPath := filepath.Join(outDir, "contacts.csv")
	if err := storage.AtomicWriteFile(contactsPath, contacts); err != nil {
		return err
	}

	pr.Println("CSV written to", groupsPath, "and", contactsPath)
	return nil
}

// prompt читает одну строку, обрезая пробелы.
func prompt(label string) (string, error) {
	pr.SetPrompt(label)
	line, err := pr.Rl().Readline()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
