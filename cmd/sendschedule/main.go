// Command sendschedule delivers a local schedule image to every subscriber.
//
//	sendschedule -config config.yaml [-caption text] [-yes] <image> [caption words...]
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/dustin/go-humanize"

	"schedbot/internal/app"
	"schedbot/internal/broadcast"
	logx "schedbot/pkg/logx"
)

const defaultCaption = "📅 Расписание занятий"

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout))
}

func run(args []string, in io.Reader, out io.Writer) int {
	fs := flag.NewFlagSet("sendschedule", flag.ContinueOnError)
	fs.SetOutput(out)
	cfgPath := fs.String("config", "./config.yaml", "path to config (yaml or json)")
	caption := fs.String("caption", "", "photo caption (default \""+defaultCaption+"\")")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(out, "❌ Использование: sendschedule [-config config.yaml] [-caption текст] [-yes] <путь_к_изображению>")
		return 2
	}
	image := fs.Arg(0)
	text := resolveCaption(*caption, fs.Args()[1:])

	size, err := checkImage(image)
	if err != nil {
		fmt.Fprintf(out, "❌ %v\n", err)
		return 1
	}

	log := logx.NewConsole("info").With(logx.String("comp", "sendschedule"))
	one, err := app.NewOneshot(*cfgPath, log)
	if err != nil {
		fmt.Fprintf(out, "❌ %v\n", err)
		return 1
	}
	defer one.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	n, err := one.Store.CountSubscribers(ctx)
	if err != nil {
		fmt.Fprintf(out, "❌ не удалось прочитать подписчиков: %v\n", err)
		return 1
	}
	if n == 0 {
		fmt.Fprintln(out, "❌ Нет подписанных пользователей")
		return 0
	}
	fmt.Fprintf(out, "📊 Найдено подписчиков: %d\n", n)
	fmt.Fprintf(out, "📸 Файл для отправки: %s (%s)\n", image, humanize.Bytes(uint64(size)))
	fmt.Fprintf(out, "📝 Подпись: %s\n", text)

	if !*yes {
		fmt.Fprint(out, "\n⚠️  Отправить расписание всем пользователям? (yes/no): ")
		line, _ := bufio.NewReader(in).ReadString('\n')
		if !confirmed(line) {
			fmt.Fprintln(out, "❌ Отправка отменена")
			return 0
		}
	}

	fmt.Fprintln(out, "\n🚀 Начинаем рассылку...")
	rep := one.Dispatcher.BroadcastKind(ctx, broadcast.KindManual, image, text)
	printReport(out, rep)
	if ctx.Err() != nil {
		return 130
	}
	return 0
}

func resolveCaption(flagValue string, rest []string) string {
	if s := strings.TrimSpace(flagValue); s != "" {
		return s
	}
	if s := strings.TrimSpace(strings.Join(rest, " ")); s != "" {
		return s
	}
	return defaultCaption
}

func checkImage(p string) (int64, error) {
	st, err := os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return 0, fmt.Errorf("файл не найден: %s", p)
	}
	if err != nil {
		return 0, err
	}
	if !st.Mode().IsRegular() {
		return 0, fmt.Errorf("не обычный файл: %s", p)
	}
	if st.Size() == 0 {
		return 0, fmt.Errorf("пустой файл: %s", p)
	}
	return st.Size(), nil
}

func confirmed(answer string) bool {
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "yes", "y", "да", "д":
		return true
	}
	return false
}

func printReport(out io.Writer, rep broadcast.Report) {
	fmt.Fprintln(out, "\n📊 Результаты рассылки:")
	fmt.Fprintf(out, "   ✅ Успешно: %d\n", rep.Success)
	fmt.Fprintf(out, "   ❌ Ошибок: %d\n", rep.Errors)
	fmt.Fprintf(out, "   🚫 Заблокировали бота (удалены): %d\n", rep.Blocked)
	fmt.Fprintf(out, "   ⏱  Время: %s\n", rep.Took.Round(time.Millisecond))
}
