package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"haulsync/driver-client/internal/app"
	"haulsync/driver-client/internal/config"
	"haulsync/driver-client/internal/platform/headless"
	"haulsync/driver-client/internal/platform/privacylog"
	"haulsync/driver-client/pkg/models"
)

var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "Path to config.yaml (optional)")
	roomID := flag.String("room", "", "Room to join; empty picks the first room from the backend")
	simulated := flag.Bool("simulated", false, "Run as a simulated device (skips push registration)")
	pushHandle := flag.String("push-handle", "", "Pre-provisioned push handle (optional)")
	flag.Parse()
	if *showVersion {
		fmt.Printf("syncdaemon version=%s commit=%s build_date=%s\n", version, commit, buildDate)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger := slog.New(privacylog.WrapHandler(slog.NewJSONHandler(os.Stderr, nil)))
	cfg := config.LoadFromPath(*configPath)

	a, err := app.New(app.Options{
		Config:      cfg,
		Logger:      logger,
		Device:      headless.Device{Simulated: *simulated},
		Permissions: headless.AutoGrant{},
		Handles:     headless.StaticHandle{Handle: *pushHandle},
		Notifier:    headless.InertNotifier{},
	})
	if err != nil {
		logger.Error("syncdaemon failed to initialize", "error", err)
		os.Exit(1)
	}
	logger.Info("syncdaemon starting", "device_id", a.DeviceID, "api", cfg.API.BaseURL)

	if username := os.Getenv("HAULSYNC_USERNAME"); username != "" {
		record, err := a.Login(ctx, username, os.Getenv("HAULSYNC_PASSWORD"))
		if err != nil {
			logger.Error("login failed", "error", err)
			os.Exit(1)
		}
		logger.Info("authenticated", "user", record.Username, "driver", record.IsDriver())
	}

	a.AttachFeeds(ctx,
		func(in models.LoadIntent) { logger.Info("open load", "load_id", in.LoadID) },
		func(in models.StatementIntent) {
			logger.Info("open statement", "statement_id", in.StatementID, "week_range", in.WeekRange)
		},
	)

	room := *roomID
	if room == "" {
		room = firstRoom(ctx, a, logger)
	}
	if room != "" {
		sess := a.NewRoomSession(func(m models.Message) {
			logger.Info("message", "room_id", m.RoomID, "sender", m.SenderName, "content", m.Content)
		}, nil)
		if err := sess.Open(ctx, room); err != nil {
			logger.Error("room open failed", "room_id", room, "error", err)
			os.Exit(1)
		}
		defer sess.Close()
		logger.Info("live", "room_id", room, "history", sess.Log().Len())
	} else {
		a.Wire.Connect(ctx)
	}

	<-ctx.Done()
	a.Wire.Disconnect()
	logger.Info("syncdaemon stopped")
}

func firstRoom(ctx context.Context, a *app.App, logger *slog.Logger) string {
	token, err := a.Sessions.Token()
	if err != nil {
		return ""
	}
	rooms, err := a.API.ListRooms(ctx, token)
	if err != nil {
		logger.Warn("room list failed", "error", err)
		return ""
	}
	if len(rooms) == 0 {
		return ""
	}
	return rooms[0].ID
}
