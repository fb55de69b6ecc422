// Liveclass is the command line client.
//
// Joins the live session of a lecture as a participant: resolves the active
// session over the REST API, attends it over the realtime relay, prints chat
// and poll notifications, and accepts simple commands on stdin:
//
//	m          toggle mute
//	q          leave and quit
//	<text>     send a chat message
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/pterm/pterm"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/nkosi/liveclass/internal/adapters/api"
	"github.com/nkosi/liveclass/internal/adapters/media"
	"github.com/nkosi/liveclass/internal/adapters/relay"
	"github.com/nkosi/liveclass/internal/adapters/rtc"
	"github.com/nkosi/liveclass/internal/app/session"
	"github.com/nkosi/liveclass/internal/config"
	"github.com/nkosi/liveclass/internal/core"
	"github.com/nkosi/liveclass/internal/domain"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	lecture := flag.String("lecture", "", "Lecture ID to attend")
	name := flag.String("name", "", "Display name")
	teacher := flag.Bool("teacher", false, "Join as the broadcasting teacher")
	debugMode := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	if *debugMode {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	lectureID := *lecture
	if lectureID == "" {
		lectureID, _ = pterm.DefaultInteractiveTextInput.
			WithDefaultText("Lecture ID").
			Show()
		lectureID = strings.TrimSpace(lectureID)
	}
	if lectureID == "" {
		log.Fatal().Msg("missing lecture id")
	}

	displayName := *name
	if displayName == "" {
		displayName = cfg.DisplayName
	}
	role := domain.RoleStudent
	if *teacher {
		role = domain.RoleTeacher
	}

	crud := api.NewClient(cfg.APIBaseURL)
	sessionID, err := crud.ActiveSession(ctx, domain.LectureID(lectureID))
	if err != nil {
		log.Fatal().Err(err).Str("lecture", lectureID).Msg("no joinable session")
	}

	transport := relay.NewChannel(relay.Options{
		PingPeriod:  cfg.PingPeriod,
		ReadLimit:   cfg.ReadLimit,
		MaxAttempts: cfg.Reconnect.MaxAttempts,
		BaseDelay:   cfg.Reconnect.BaseDelay,
		MaxDelay:    cfg.Reconnect.MaxDelay,
	})
	gate := media.NewDeviceGate(nil)
	peerCfg := rtc.Config(cfg.STUNServers)
	mediaFor := func(sid domain.SessionID) core.MediaFactory {
		return rtc.Factory(peerCfg, sid)
	}

	engine := session.NewEngine(transport, gate, mediaFor, session.Options{
		RelayURL:    cfg.RelayURL,
		DisplayName: displayName,
		Role:        role,
	})
	if err := engine.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to start session engine")
	}
	defer func() {
		if err := engine.Stop(); err != nil && err != session.ErrNotRunning {
			log.Error().Err(err).Msg("engine stop")
		}
	}()

	go watchSnapshots(ctx, engine)
	go watchNotifications(ctx, engine)

	pterm.Info.Println(fmt.Sprintf("Joining session %s (lecture %s) as %s", sessionID, lectureID, role))
	engine.Join(sessionID, domain.LectureID(lectureID))

	go readCommands(ctx, cancel, engine)

	<-ctx.Done()
	engine.Leave()
	pterm.Info.Println("Left session")
}

// watchSnapshots prints every composite state change.
func watchSnapshots(ctx context.Context, engine *session.Engine) {
	snaps := engine.Snapshots()
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-snaps:
			switch snap.State {
			case session.Active:
				pterm.Success.Println(fmt.Sprintf("in session with %d other participant(s), muted=%v",
					len(snap.Participants), snap.Muted))
			case session.Recovering:
				pterm.Warning.Println("connection degraded, reconnecting...")
			case session.Lost:
				pterm.Error.Println("session lost, rejoin to continue")
			case session.JoinFailed:
				pterm.Error.Println("could not join the session")
			default:
				pterm.Info.Println(snap.State.String())
			}
		}
	}
}

// watchNotifications prints chat, polls and presence from the fan-out.
func watchNotifications(ctx context.Context, engine *session.Engine) {
	fan := engine.FanOut()
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-fan.Chat():
			pterm.Println(pterm.Cyan(msg.UserName+": ") + msg.Message)
		case poll := <-fan.Polls():
			if poll.Kind == domain.PollCreated {
				pterm.Println(pterm.Magenta("poll: ") + poll.Question + " " + strings.Join(poll.Options, " / "))
			}
		case ev := <-fan.Presence():
			verb := "joined"
			if ev.Kind == domain.ParticipantLeft {
				verb = "left"
			}
			pterm.Println(pterm.Gray(fmt.Sprintf("%s %s the session", ev.Name, verb)))
		case <-fan.Content():
			pterm.Println(pterm.Magenta("content shared by the teacher"))
		}
	}
}

// readCommands handles stdin: mute toggle, quit, or chat text.
func readCommands(ctx context.Context, cancel context.CancelFunc, engine *session.Engine) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
		case "m":
			engine.ToggleMute()
		case "q":
			cancel()
			return
		default:
			if err := engine.SendChat(line); err != nil {
				log.Warn().Err(err).Msg("chat not sent")
			}
		}
	}
}
