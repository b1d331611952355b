// The MIT License (MIT)
//
// # Copyright (c) 2016 xtaci
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/urfave/cli"

	"github.com/toras9000/lrdbridge/bridge"
	"github.com/toras9000/lrdbridge/generic"
)

// VERSION is populated via build flags when packaging official binaries.
var VERSION = "SELFBUILD"

func main() {
	if VERSION == "SELFBUILD" {
		// Enable timestamps + file:line to simplify debugging self-built binaries.
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	myApp := cli.NewApp()
	myApp.Name = "bridged"
	myApp.Usage = "persistent TCP-to-stream bridge, piping a single reconnecting client to stdin/stdout"
	myApp.Version = VERSION
	myApp.Flags = []cli.Flag{
		cli.StringFlag{
			Name:  "listen, l",
			Value: ":29900",
			Usage: `listen address, eg: "IP:29900"`,
		},
		cli.IntFlag{
			Name:  "accept-interval",
			Value: 1000,
			Usage: "cooldown between accept attempts, in milliseconds",
		},
		cli.IntFlag{
			Name:  "bridge-timeout",
			Value: 3000,
			Usage: "deadline for a single flush/send operation, in milliseconds",
		},
		cli.IntFlag{
			Name:  "cache-bytes",
			Value: bridge.DefaultOutgoingCacheBytes,
			Usage: "capacity of the outgoing ring cache used while no client is connected",
		},
		cli.IntFlag{
			Name:  "pause-writer-bytes",
			Value: 0,
			Usage: "high-water mark at which stdin reads are backpressured, 0 to disable",
		},
		cli.IntFlag{
			Name:  "sockbuf",
			Value: 0,
			Usage: "accepted socket's SO_SNDBUF/SO_RCVBUF size, 0 to leave the OS default",
		},
		cli.StringFlag{
			Name:  "statslog",
			Value: "",
			Usage: "collect bridge diagnostics to file, aware of timeformat in golang, like: ./stats-20060102.log",
		},
		cli.IntFlag{
			Name:  "statsperiod",
			Value: 60,
			Usage: "stats collect period, in seconds",
		},
		cli.StringFlag{
			Name:  "log",
			Value: "",
			Usage: "specify a log file to output, default goes to stderr",
		},
		cli.BoolFlag{
			Name:  "quiet",
			Usage: "to suppress the startup banner",
		},
		cli.StringFlag{
			Name:  "c",
			Value: "", // when set, the JSON file must exist on disk
			Usage: "config from json file, which will override the command from shell",
		},
	}
	myApp.Action = func(c *cli.Context) error {
		config := bridge.Config{}
		config.Listen = c.String("listen")
		config.AcceptIntervalMS = c.Int("accept-interval")
		config.BridgeTimeoutMS = c.Int("bridge-timeout")
		config.OutgoingCacheBytes = c.Int("cache-bytes")
		config.PauseWriterBytes = c.Int("pause-writer-bytes")
		config.SockBuf = c.Int("sockbuf")
		config.Log = c.String("log")
		config.StatsLog = c.String("statslog")
		config.StatsPeriod = c.Int("statsperiod")
		config.Quiet = c.Bool("quiet")

		if c.String("c") != "" {
			// Only JSON configuration files are supported at the moment.
			checkError(bridge.ParseJSONConfig(&config, c.String("c")))
		}

		if config.Log != "" {
			f, err := os.OpenFile(config.Log, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0666)
			checkError(err)
			defer f.Close()
			log.SetOutput(f)
		}

		opts := bridge.Options{
			AcceptInterval:     time.Duration(config.AcceptIntervalMS) * time.Millisecond,
			BridgeTimeout:      time.Duration(config.BridgeTimeoutMS) * time.Millisecond,
			OutgoingCacheBytes: config.OutgoingCacheBytes,
		}
		if config.PauseWriterBytes > 0 {
			opts.PauseWriterThresholdBytes = &config.PauseWriterBytes
		}
		if config.SockBuf > 0 {
			opts.SendBufferBytes = &config.SockBuf
			opts.RecvBufferBytes = &config.SockBuf
		}

		br, err := bridge.New(config.Listen, opts)
		checkError(err)

		log.Println("listening on:", config.Listen)
		if !config.Quiet {
			color.Green("bridged ready, piping %s to stdin/stdout", config.Listen)
		}

		done := make(chan struct{})
		go bridge.StatsLogger(done, br, config.StatsLog, time.Duration(config.StatsPeriod)*time.Second)

		go sigHandler(br, done)

		go func() {
			if _, err := generic.Copy(os.Stdout, br.Incoming()); err != nil {
				log.Println("bridge: incoming stream ended:", err)
			}
		}()

		if _, err := generic.Copy(br.Outgoing(), os.Stdin); err != nil {
			log.Println("bridge: stdin copy ended:", err)
		}

		close(done)
		<-br.DisposeAsync()
		return nil
	}
	myApp.Run(os.Args)
}

// sigHandler dumps a DEFLATE-compressed snapshot of the outgoing ring to
// stderr on SIGUSR1, and tears the bridge down cleanly on SIGINT/SIGTERM.
// Adapted from the teacher's client/signal.go, which logs a live SNMP
// counter snapshot on the same signal; there is no package-level counter
// bag here, so it dumps the bridge's own ring instead.
func sigHandler(br *bridge.Bridge, done chan struct{}) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGUSR1, syscall.SIGINT, syscall.SIGTERM)
	signal.Ignore(syscall.SIGPIPE)

	for sig := range ch {
		switch sig {
		case syscall.SIGUSR1:
			if n, err := br.DumpRing(os.Stderr); err != nil {
				log.Println("bridge: ring dump:", err)
			} else {
				log.Printf("bridge: dumped %d bytes of ring content, DEFLATE-compressed", n)
			}
		case syscall.SIGINT, syscall.SIGTERM:
			log.Println("bridge: shutting down")
			<-br.DisposeAsync()
			os.Exit(0)
		}
	}
}

func checkError(err error) {
	if err != nil {
		log.Printf("%+v\n", err)
		os.Exit(-1)
	}
}
