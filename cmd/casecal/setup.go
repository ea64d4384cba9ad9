package main

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/charmbracelet/huh"

	"casecal/internal/config"
	appLog "casecal/internal/log"
)

// runSetup asks for the essential settings and writes them to path. An
// existing file is used for the defaults.
func runSetup(path string) error {
	conf, err := config.Load(path)
	if err != nil && conf == nil {
		return err
	}

	var (
		resourceID, resourceName, resourceColor string
		save                                    = true
	)
	if len(conf.Resources) > 0 {
		resourceID = conf.Resources[0].ID
		resourceName = conf.Resources[0].Name
		resourceColor = conf.Resources[0].Color
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("1. Listen address").
				Description("Where the Web UI is served, e.g. 127.0.0.1:8080.").
				Value(&conf.Listen).
				Validate(validateListen),

			huh.NewInput().
				Title("Timezone").
				Description("IANA name of the practice timezone, e.g. America/New_York.").
				Value(&conf.Timezone).
				Validate(validateTimezone),

			huh.NewSelect[string]().
				Title("Week starts on").
				Options(
					huh.NewOption("Monday", "monday"),
					huh.NewOption("Sunday", "sunday"),
				).
				Value(&conf.WeekStart),

			huh.NewSelect[string]().
				Title("Default view").
				Options(
					huh.NewOption("Week", "week"),
					huh.NewOption("Month", "month"),
					huh.NewOption("Day", "day"),
				).
				Value(&conf.DefaultView),
		).Title("Calendar"),
		huh.NewGroup(
			huh.NewInput().
				Title("2. Events API base URL").
				Description("Leave blank for a read-only calendar fed by ICS subscriptions only.").
				Value(&conf.Backend.BaseURL),

			huh.NewInput().
				Title("API token").
				Description("Sent as a Bearer token. Leave blank if the API is open.").
				EchoMode(huh.EchoModePassword).
				Value(&conf.Backend.Token),
		).Title("Backend"),
		huh.NewGroup(
			huh.NewInput().
				Title("3. First resource id").
				Description("An attorney or room, e.g. sarah. Leave blank to skip.").
				Value(&resourceID),

			huh.NewInput().
				Title("Display name").
				Value(&resourceName),

			huh.NewInput().
				Title("Color").
				Description("CSS color, e.g. #2563eb. Blank picks one automatically.").
				Value(&resourceColor),
		).Title("Resources"),
		huh.NewGroup(
			huh.NewConfirm().
				Title("Write "+path+"?").
				Value(&save),
		),
	)

	if err := form.Run(); err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			appLog.Info("setup aborted; nothing written")
			return nil
		}
		return fmt.Errorf("setup form: %w", err)
	}
	if !save {
		appLog.Info("setup finished without saving")
		return nil
	}

	applyResource(conf, resourceID, resourceName, resourceColor)
	if err := conf.Save(path); err != nil {
		return err
	}
	appLog.Info("config written", "path", path)
	return nil
}

// applyResource upserts the wizard's resource as the first entry.
func applyResource(conf *config.Config, id, name, color string) {
	id = strings.TrimSpace(id)
	if id == "" {
		return
	}
	rc := config.ResourceConfig{ID: id, Name: strings.TrimSpace(name), Color: strings.TrimSpace(color)}
	for i, existing := range conf.Resources {
		if existing.ID == id {
			conf.Resources[i] = rc
			return
		}
	}
	conf.Resources = append([]config.ResourceConfig{rc}, conf.Resources...)
}

func validateListen(s string) error {
	if _, _, err := net.SplitHostPort(s); err != nil {
		return fmt.Errorf("want host:port: %w", err)
	}
	return nil
}

func validateTimezone(s string) error {
	if _, err := time.LoadLocation(s); err != nil {
		return fmt.Errorf("unknown timezone %q", s)
	}
	return nil
}
