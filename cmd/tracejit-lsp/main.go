// SPDX-License-Identifier: Apache-2.0
package main

import (
	"os"

	"github.com/spf13/pflag"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"github.com/tliron/glsp/server"

	"tracejit/internal/config"
	"tracejit/internal/lsp"
)

const lsName = "tracejit"

var handler protocol.Handler

func main() {
	configPath := pflag.StringP("config", "c", "", "YAML options file")
	pflag.Parse()

	opts := config.Default()
	if *configPath != "" {
		var err error
		if opts, err = config.Load(*configPath); err != nil {
			commonlog.GetLogger("tracejit.lsp").Criticalf("%s", err)
			os.Exit(1)
		}
	}

	// Verbosity 1 logs at info level and above
	commonlog.Configure(max(opts.Verbosity, 1), nil)
	log := commonlog.GetLogger("tracejit.lsp")

	scriptHandler := lsp.NewScriptHandler(opts)

	handler = protocol.Handler{
		Initialize:                     scriptHandler.Initialize,
		Initialized:                    scriptHandler.Initialized,
		Shutdown:                       scriptHandler.Shutdown,
		SetTrace:                       scriptHandler.SetTrace,
		TextDocumentDidOpen:            scriptHandler.TextDocumentDidOpen,
		TextDocumentDidClose:           scriptHandler.TextDocumentDidClose,
		TextDocumentDidChange:          scriptHandler.TextDocumentDidChange,
		TextDocumentCompletion:         scriptHandler.TextDocumentCompletion,
		TextDocumentHover:              scriptHandler.TextDocumentHover,
		TextDocumentSemanticTokensFull: scriptHandler.TextDocumentSemanticTokensFull,
	}

	s := server.NewServer(&handler, lsName, false)

	log.Info("starting tracejit language server")

	if err := s.RunStdio(); err != nil {
		log.Errorf("language server stopped: %s", err)
		os.Exit(1)
	}
}
