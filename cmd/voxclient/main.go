// Command voxclient plays a recorded audio file into a running relay and
// prints the reply as it streams back.
package main

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"node.town/voxrelay/protocol"
)

func main() {
	cmd := &cobra.Command{
		Use:   "voxclient <audio-file>",
		Short: "Send an audio file to a voxrelay server",
		Args:  cobra.ExactArgs(1),
		Run:   run,
	}
	cmd.Flags().String("url", "ws://localhost:3000", "Relay base URL")
	cmd.Flags().Bool("continuous", false, "Stream the file as a continuous call")
	cmd.Flags().Int("chunk", 4096, "Fragment size in continuous mode")
	cmd.Flags().String("out", "reply.mp3", "Where to write the spoken reply")

	if err := cmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) {
	logger := log.New(os.Stderr)

	base, _ := cmd.Flags().GetString("url")
	continuous, _ := cmd.Flags().GetBool("continuous")
	chunk, _ := cmd.Flags().GetInt("chunk")
	out, _ := cmd.Flags().GetString("out")

	audio, err := os.ReadFile(args[0])
	if err != nil {
		logger.Fatal("read audio", "error", err.Error())
	}

	path := "/ws"
	if continuous {
		path = "/continuous-ws"
	}
	ws, _, err := websocket.DefaultDialer.Dial(strings.TrimSuffix(base, "/")+path, nil)
	if err != nil {
		logger.Fatal("connect", "error", err.Error())
	}
	defer ws.Close()

	var writeMu sync.Mutex
	send := func(msg protocol.Message) {
		writeMu.Lock()
		defer writeMu.Unlock()
		data, _ := json.Marshal(msg)
		if err := ws.WriteMessage(websocket.TextMessage, data); err != nil {
			logger.Fatal("send", "type", msg.Type, "error", err.Error())
		}
	}
	encoded := func(b []byte) string { return base64.StdEncoding.EncodeToString(b) }

	go func() {
		if !continuous {
			send(protocol.Message{Type: protocol.TypeAudio, Audio: encoded(audio)})
			return
		}
		send(protocol.Message{Type: protocol.TypeStartCall})
		for start := 0; start < len(audio); start += chunk {
			end := min(start+chunk, len(audio))
			send(protocol.Message{Type: protocol.TypeContinuousAudio, Audio: encoded(audio[start:end])})
			time.Sleep(20 * time.Millisecond)
		}
	}()

	processing := false
	for {
		ws.SetReadDeadline(time.Now().Add(2 * time.Minute))
		_, data, err := ws.ReadMessage()
		if err != nil {
			logger.Fatal("receive", "error", err.Error())
		}
		var ev protocol.Event
		if err := json.Unmarshal(data, &ev); err != nil {
			logger.Warn("bad event", "data", string(data))
			continue
		}

		switch ev.Type {
		case protocol.TypeSession:
			logger.Info("session", "id", ev.SessionID)
		case protocol.TypeCallStatus:
			logger.Info("call", "status", ev.Status, "message", ev.Message)
		case protocol.TypeTranscription:
			fmt.Printf("You: %s\nAI: ", ev.Text)
		case protocol.TypeResponseChunk:
			fmt.Print(ev.Text)
		case protocol.TypeAudioResponse:
			fmt.Println()
			speech, err := base64.StdEncoding.DecodeString(ev.Audio)
			if err == nil {
				err = os.WriteFile(out, speech, 0644)
			}
			if err != nil {
				logger.Error("save reply", "error", err.Error())
			} else {
				logger.Info("reply saved", "file", out, "bytes", len(speech))
			}
		case protocol.TypeError:
			logger.Error("relay error", "message", ev.Message)
		case protocol.TypeStatus:
			if ev.Status == protocol.StatusProcessing {
				processing = true
				continue
			}
			if processing && ev.Status == protocol.StatusReady {
				if continuous {
					send(protocol.Message{Type: protocol.TypeEndCall})
				}
				send(protocol.Message{Type: protocol.TypeEnd})
				ws.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
					time.Now().Add(time.Second))
				return
			}
		}
	}
}
