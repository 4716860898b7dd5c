package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"time"

	"github.com/gorilla/websocket"
)

// agentprobe drives one probing session against a running backend: it
// connects to the agent websocket, answers every question with audio
// from a local file and prints the events as they arrive.

const (
	chunkBytes    = 3200 // 100ms of 16kHz mono PCM16
	chunkInterval = 100 * time.Millisecond
)

type serverEvent struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	Transcript string  `json:"transcript"`
	IsFinal    bool    `json:"is_final"`
	Chunk      string  `json:"chunk"`
	Mood       string  `json:"mood"`
	Confidence float64 `json:"confidence"`
	Message    string  `json:"message"`
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	addr := flag.String("addr", "localhost:8080", "backend host:port")
	audioPath := flag.String("audio", "", "PCM16/16kHz/mono audio file used as the spoken answer (WAV header stripped)")
	timeout := flag.Duration("timeout", 5*time.Minute, "overall session timeout")
	flag.Parse()

	if *audioPath == "" {
		flag.Usage()
		log.Fatal("specify the answer audio file with -audio")
	}

	answer, err := loadPCM(*audioPath)
	if err != nil {
		log.Fatalf("failed to load audio: %v", err)
	}
	log.Printf("loaded %d bytes of answer audio", len(answer))

	u := url.URL{Scheme: "ws", Host: *addr, Path: "/api/agent/ws"}
	conn, _, err := websocket.DefaultDialer.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect to %s: %v", u.String(), err)
	}
	defer conn.Close()
	log.Printf("connected to %s", u.String())

	deadline := time.After(*timeout)
	questionAudio := 0

	for {
		select {
		case <-deadline:
			log.Fatal("session timed out")
		default:
		}

		var event serverEvent
		if err := conn.ReadJSON(&event); err != nil {
			log.Fatalf("read failed: %v", err)
		}

		switch event.Type {
		case "question_audio_base_64":
			questionAudio++
		case "question":
			log.Printf("question: %s (%d audio chunks)", event.Text, questionAudio)
			questionAudio = 0
			ack, _ := json.Marshal(map[string]string{"type": "audio_playback_finished"})
			if err := conn.WriteMessage(websocket.TextMessage, ack); err != nil {
				log.Fatalf("failed to ack playback: %v", err)
			}
		case "listening":
			log.Println("listening, streaming answer audio")
			if err := streamAnswer(conn, answer); err != nil {
				log.Fatalf("failed to stream audio: %v", err)
			}
		case "transcript":
			marker := ""
			if event.IsFinal {
				marker = " (final)"
			}
			log.Printf("transcript%s: %s", marker, event.Transcript)
		case "analyzing":
			log.Println("analyzing answer")
		case "result":
			fmt.Printf("mood=%s confidence=%.2f\n", event.Mood, event.Confidence)
			return
		case "error":
			log.Fatalf("session error: %s", event.Message)
		default:
			log.Printf("unknown event %q", event.Type)
		}
	}
}

func streamAnswer(conn *websocket.Conn, audio []byte) error {
	for offset := 0; offset < len(audio); offset += chunkBytes {
		end := offset + chunkBytes
		if end > len(audio) {
			end = len(audio)
		}
		if err := conn.WriteMessage(websocket.BinaryMessage, audio[offset:end]); err != nil {
			return err
		}
		time.Sleep(chunkInterval)
	}
	return nil
}

func loadPCM(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	// Strip a RIFF/WAVE header when present; the server expects raw PCM.
	if len(data) > 44 && bytes.HasPrefix(data, []byte("RIFF")) && bytes.Equal(data[8:12], []byte("WAVE")) {
		return data[44:], nil
	}
	return data, nil
}
