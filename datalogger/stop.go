package datalogger

import (
	"bufio"
	"io"
	"log"
	"strings"
)

// StopOnCommand returns a channel that is closed when a line equal to word
// is read from r. Other lines are ignored. End of input does not close the
// channel.
func StopOnCommand(r io.Reader, word string) <-chan struct{} {
	stop := make(chan struct{})
	go func() {
		scanner := bufio.NewScanner(r)
		for scanner.Scan() {
			if strings.TrimSpace(scanner.Text()) == word {
				close(stop)
				return
			}
			log.Printf("type %q to exit", word)
		}
		if err := scanner.Err(); err != nil {
			log.Printf("reading commands: %v", err)
		}
	}()
	return stop
}
