// SPDX-License-Identifier: GPL-3.0-or-later

package gnomecups_test

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"time"

	"github.com/bassosimone/runtimex"
	gnomecups "github.com/eurolinux-enterprise-linux-sources/libgnomecups"
)

// newExampleServer returns a local server speaking just enough IPP for
// the examples: every POST gets a successful-ok response echoing the
// request-id and GET /admin/conf/cupsd.conf returns a short file.
func newExampleServer() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /", func(w http.ResponseWriter, r *http.Request) {
		request, _ := io.ReadAll(r.Body)
		response := []byte{1, 1, 0, 0, 0, 0, 0, 0, 0x03}
		if len(request) >= 8 {
			copy(response[4:8], request[4:8])
		}
		w.Header().Set("Content-Type", "application/ipp")
		w.Write(response)
	})
	mux.HandleFunc("GET /admin/conf/cupsd.conf", func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, "Listen localhost:631\n")
	})
	return httptest.NewServer(mux)
}

// getPrintersRequest encodes a minimal CUPS-Get-Printers request.
func getPrintersRequest(requestID uint32) []byte {
	request := []byte{1, 1, 0x40, 0x02, 0, 0, 0, 0}
	binary.BigEndian.PutUint32(request[4:8], requestID)
	return append(request, 0x03)
}

// This example runs a request synchronously through the engine.
func Example_execute() {
	srv := newExampleServer()
	defer srv.Close()

	// The default server comes from the config, like CUPS_SERVER does
	cfg := gnomecups.NewConfig()
	cfg.Server = srv.Listener.Addr().String()
	cfg.Encryption = gnomecups.EncryptNever

	engine := gnomecups.NewEngine(cfg, gnomecups.DefaultSLogger())
	runtimex.Assert(engine.Init(nil) == nil)
	defer engine.Shutdown()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	resp := runtimex.PanicOnError1(engine.Execute(ctx, getPrintersRequest(17), "", "/"))
	fmt.Println(resp.Status, resp.RequestID)

	// Output:
	// successful-ok 17
}

// This example submits requests asynchronously and collects the
// outcomes on the engine main loop.
func Example_submit() {
	srv := newExampleServer()
	defer srv.Close()

	cfg := gnomecups.NewConfig()
	cfg.Encryption = gnomecups.EncryptNever
	engine := gnomecups.NewEngine(cfg, gnomecups.DefaultSLogger())
	runtimex.Assert(engine.Init(nil) == nil)
	defer engine.Shutdown()

	server := srv.Listener.Addr().String()
	done := make(chan string, 2)

	var config bytes.Buffer
	runtimex.PanicOnError1(engine.SubmitFile(server, "/admin/conf/cupsd.conf", &config,
		func(id gnomecups.RequestID, path string, resp *gnomecups.Response, err error, data any) {
			done <- fmt.Sprintf("%s: %q %v", path, config.String(), err)
		}, nil, nil))

	runtimex.PanicOnError1(engine.Submit(getPrintersRequest(1), server, "/",
		func(id gnomecups.RequestID, path string, resp *gnomecups.Response, err error, data any) {
			done <- fmt.Sprintf("%s: %s %v", path, resp.Status, err)
		}, nil, nil))

	// Requests for one server run one at a time in submission order
	fmt.Println(<-done)
	fmt.Println(<-done)

	// Output:
	// /admin/conf/cupsd.conf: "Listen localhost:631\n" <nil>
	// /: successful-ok <nil>
}
