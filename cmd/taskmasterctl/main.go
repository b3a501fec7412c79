// Command taskmasterctl is the interactive control-channel client: a
// line-at-a-time REPL with no history or line editing, connecting to a
// running taskmasterd and issuing status/start/stop/restart/reload/attach
// requests.
package main

import (
	"bufio"
	"fmt"
	"net"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tdameros/taskmaster-go/internal/wire"
)

func main() {
	var addr string

	root := &cobra.Command{
		Use:   "taskmasterctl",
		Short: "Taskmaster interactive control client",
		RunE: func(cmd *cobra.Command, args []string) error {
			return repl(addr)
		},
	}
	root.Flags().StringVar(&addr, "connect", "127.0.0.1:8080", "daemon control channel address")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func repl(addr string) error {
	conn, err := net.Dial("tcp", addr)
	if err != nil {
		return fmt.Errorf("taskmasterctl: connecting to %s: %w", addr, err)
	}
	defer conn.Close()

	scanner := bufio.NewScanner(os.Stdin)
	fmt.Print("taskmaster> ")
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			fmt.Print("taskmaster> ")
			continue
		}

		fields := strings.Fields(line)
		cmdName := fields[0]

		if cmdName == "exit" {
			return nil
		}
		if cmdName == "help" {
			printHelp()
			fmt.Print("taskmaster> ")
			continue
		}

		req, err := buildRequest(cmdName, fields[1:])
		if err != nil {
			fmt.Println(err)
			fmt.Print("taskmaster> ")
			continue
		}

		if err := wire.EncodeRequest(conn, req); err != nil {
			return fmt.Errorf("taskmasterctl: sending request: %w", err)
		}

		if req.Kind == wire.RequestAttach {
			streamAttach(conn)
			fmt.Print("taskmaster> ")
			continue
		}

		resp, err := wire.DecodeResponse(conn)
		if err != nil {
			return fmt.Errorf("taskmasterctl: reading response: %w", err)
		}
		printResponse(resp)
		fmt.Print("taskmaster> ")
	}
	return scanner.Err()
}

func buildRequest(cmdName string, args []string) (wire.Request, error) {
	needsName := map[string]bool{"start": true, "stop": true, "restart": true, "attach": true}
	kind, ok := map[string]wire.RequestKind{
		"status":  wire.RequestStatus,
		"start":   wire.RequestStart,
		"stop":    wire.RequestStop,
		"restart": wire.RequestRestart,
		"reload":  wire.RequestReload,
		"attach":  wire.RequestAttach,
	}[cmdName]
	if !ok {
		return wire.Request{}, fmt.Errorf("unknown command %q (try 'help')", cmdName)
	}
	if needsName[cmdName] {
		if len(args) != 1 {
			return wire.Request{}, fmt.Errorf("%s requires exactly one program name", cmdName)
		}
		return wire.Request{Kind: kind, Name: args[0]}, nil
	}
	return wire.Request{Kind: kind}, nil
}

func streamAttach(conn net.Conn) {
	for {
		resp, err := wire.DecodeResponse(conn)
		if err != nil {
			fmt.Printf("attach stream ended: %v\n", err)
			return
		}
		switch resp.Kind {
		case wire.ResponseRawStream:
			fmt.Print(resp.Line)
		case wire.ResponseError:
			fmt.Println(resp.Message)
			return
		default:
			return
		}
	}
}

func printResponse(resp wire.Response) {
	switch resp.Kind {
	case wire.ResponseSuccess:
		fmt.Println(resp.Message)
	case wire.ResponseError:
		fmt.Println("error:", resp.Message)
	case wire.ResponseStatus:
		for _, p := range resp.Programs {
			fmt.Printf("%s:\n", p.Name)
			for i, r := range p.Status {
				pid := "-"
				if r.PID != nil {
					pid = fmt.Sprintf("%d", *r.PID)
				}
				fmt.Printf("  [%d] state=%s pid=%s restarts=%d\n", i, r.State, pid, r.RestartCounter)
			}
		}
	}
}

func printHelp() {
	fmt.Println(`commands:
  status            show every program's replica states
  start NAME        start all replicas of a program
  stop NAME         stop all replicas of a program
  restart NAME      restart all replicas of a program
  reload            reload the configuration file
  attach NAME       stream replica 0's stdout until it closes
  help              show this message
  exit              disconnect and quit`)
}
