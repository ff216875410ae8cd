// pricewatch は競合他社の料金ページとニュースを監視し、
// 変更を検知して通知するサービスのエントリーポイント。
package main

import (
	"log/slog"
	"os"

	"github.com/hitoshi/pricewatch/internal/app"
)

func main() {
	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		slog.Error("application exited with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
