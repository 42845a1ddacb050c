package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/mahaj/lytecord/pkg/client"
	"github.com/mahaj/lytecord/pkg/model"
)

const pageLines = 20

// chat follows channelID in a Window and sends every line read from in.
func chat(ctx context.Context, c *client.Client, user model.User, channelID int64, in io.Reader) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.WarnLevel).With().Timestamp().Logger()

	var out sync.Mutex
	w := client.NewWindow(c, log)
	w.OnMessage = func(m model.Message) {
		out.Lock()
		defer out.Unlock()
		fmt.Printf("\r%s\n> ", format(m))
	}

	if err := w.SetChannel(ctx, channelID); err != nil {
		return err
	}
	fmt.Printf("Logged in as %s. Type /quit to leave.\n", paint(user))

	latest := w.Messages(0, false, pageLines)
	printPage(&out, latest)
	var oldest int64
	if len(latest) > 0 {
		oldest = latest[len(latest)-1].ID
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	fmt.Print("> ")
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.Mux().Done():
			return fmt.Errorf("connection lost: %w", c.Mux().Err())
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			switch text := strings.TrimSpace(line); {
			case text == "":
			case text == "/quit":
				return nil
			case text == "/older":
				if oldest == 0 {
					break
				}
				page := w.Messages(oldest, true, pageLines)
				if len(page) == 0 {
					if w.Top() {
						fmt.Println("(beginning of the channel)")
					} else {
						fmt.Println("(loading, try again)")
					}
					break
				}
				printPage(&out, page)
				oldest = page[len(page)-1].ID
			default:
				sendCtx, cancel := context.WithTimeout(ctx, requestTimeout)
				if _, err := w.SendMessage(sendCtx, text, nil); err != nil {
					fmt.Printf("\033[31m%s\033[0m\n", err)
				}
				cancel()
			}
			fmt.Print("> ")
		}
	}
}

// printPage prints a newest-first page oldest first.
func printPage(out *sync.Mutex, page []model.Message) {
	out.Lock()
	defer out.Unlock()
	for i := len(page) - 1; i >= 0; i-- {
		fmt.Println(format(page[i]))
	}
}

func format(m model.Message) string {
	ts := time.Unix(m.Timestamp, 0).Format("15:04")
	line := fmt.Sprintf("[%s] %s: %s", ts, paint(m.Author), m.Content)
	if m.Attachment != nil {
		line += fmt.Sprintf(" [%s, %d bytes]", m.Attachment.Filename, m.Attachment.Size)
	}
	return line
}

// paint renders the username in its name colour.
func paint(u model.User) string {
	if len(u.NameColor) != 7 {
		return u.Username
	}
	rgb, err := strconv.ParseUint(u.NameColor[1:], 16, 32)
	if err != nil {
		return u.Username
	}
	return fmt.Sprintf("\033[38;2;%d;%d;%dm%s\033[0m", rgb>>16, rgb>>8&0xff, rgb&0xff, u.Username)
}
