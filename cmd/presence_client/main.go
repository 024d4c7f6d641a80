package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"chat-relay/internal/grpcclient"
	"chat-relay/internal/platform/config"
)

func main() {
	if err := mainNoExit(); err != nil {
		log.Printf("查詢失敗: %v", err)
		os.Exit(1)
	}
}

func mainNoExit() error {
	addr := flag.String("addr", "localhost:8081", "gRPC 服務地址")
	token := flag.String("token", os.Getenv("CHAT_RELAY_TOKEN"), "JWT（JWT 停用時可留空）")
	caFile := flag.String("ca", "", "伺服器 CA 憑證；留空時使用明文連接")
	certFile := flag.String("cert", "", "客戶端憑證（雙向 TLS）")
	keyFile := flag.String("key", "", "客戶端私鑰（雙向 TLS）")
	timeout := flag.Duration("timeout", 5*time.Second, "請求逾時")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "用法: %s [flags] list | online <userId> | lastseen <userId>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() == 0 {
		flag.Usage()
		return fmt.Errorf("缺少指令")
	}

	tlsCfg := config.TLSConfig{
		Enabled:  *caFile != "",
		CAFile:   *caFile,
		CertFile: *certFile,
		KeyFile:  *keyFile,
	}
	conn, err := grpcclient.Dial(*addr, tlsCfg)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(grpcclient.WithToken(context.Background(), *token), *timeout)
	defer cancel()

	return run(ctx, grpcclient.NewPresenceClient(conn), flag.Args())
}

func run(ctx context.Context, client *grpcclient.PresenceClient, args []string) error {
	switch args[0] {
	case "list":
		users, err := client.ListOnlineUsers(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("在線用戶 (%d): %s\n", len(users), strings.Join(users, ", "))
	case "online", "lastseen":
		if len(args) < 2 {
			return fmt.Errorf("%s 需要 userId", args[0])
		}
		if args[0] == "online" {
			online, err := client.IsOnline(ctx, args[1])
			if err != nil {
				return err
			}
			fmt.Printf("%s 在線: %t\n", args[1], online)
			return nil
		}
		ls, err := client.LastSeen(ctx, args[1])
		if err != nil {
			return err
		}
		if !ls.Found {
			fmt.Printf("%s 沒有在線紀錄\n", args[1])
			return nil
		}
		fmt.Printf("%s 狀態: %s，最後上線: %s\n", ls.UserID, ls.Status, ls.LastSeen.Format(time.RFC3339))
	default:
		return fmt.Errorf("未知指令: %s", args[0])
	}
	return nil
}
