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

package bridge

import (
	"encoding/json"
	"os"
)

// Config is the on-disk/CLI-flag shape of a bridge's settings, kept
// distinct from Options so the JSON field names and CLI flags can evolve
// independently of the in-process API.
type Config struct {
	Listen             string `json:"listen"`
	AcceptIntervalMS   int    `json:"accept_interval_ms"`
	BridgeTimeoutMS    int    `json:"bridge_timeout_ms"`
	OutgoingCacheBytes int    `json:"outgoing_cache_bytes"`
	PauseWriterBytes   int    `json:"pause_writer_bytes"`
	SockBuf            int    `json:"sockbuf"`
	Log                string `json:"log"`
	StatsLog           string `json:"statslog"`
	StatsPeriod        int    `json:"statsperiod"`
	Quiet              bool   `json:"quiet"`
}

// ParseJSONConfig loads path into config, overriding whichever fields the
// file sets. Mirrored on the teacher's server/config.go, which applies the
// same "flags first, then JSON overrides" precedence via the CLI's -c flag.
func ParseJSONConfig(config *Config, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	return json.NewDecoder(file).Decode(config)
}
