package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/bookrag/config"
	"github.com/mohammad-safakhou/bookrag/internal/rag/embedding"
	"github.com/mohammad-safakhou/bookrag/internal/rag/ingest"
	srv "github.com/mohammad-safakhou/bookrag/internal/server"
	"github.com/mohammad-safakhou/bookrag/models"
	"github.com/mohammad-safakhou/bookrag/provider"
)

func ingestCMD() *cobra.Command {
	var urls []string
	var source string
	var reset bool
	var rendered bool
	var cfgPath string

	var ingestCmd = &cobra.Command{
		Use:   "ingest",
		Short: "Ingest documents from URLs into the vector store",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.LoadConfig(cfgPath)
			ctx := context.Background()

			store, err := srv.NewVectorStore(ctx, cfg)
			if err != nil {
				return err
			}

			if reset {
				if err := store.Reset(ctx); err != nil {
					return fmt.Errorf("reset vector store: %w", err)
				}
				log.Println("vector store reset")
				if len(urls) == 0 {
					return nil
				}
			}
			if len(urls) == 0 {
				return fmt.Errorf("no urls given (use --url)")
			}

			kind := models.SourceKind(source)
			switch kind {
			case models.SourceWeb, models.SourceBook, models.SourceDeployedBook:
			default:
				return fmt.Errorf("unknown source kind %q", source)
			}

			llm, err := provider.NewProvider(provider.OpenAI, cfg.Providers.OpenAI)
			if err != nil {
				return err
			}

			logger := log.New(log.Writer(), "[INGEST] ", log.LstdFlags)
			gateway := embedding.NewGateway(llm, logger)
			ingestor := ingest.New(gateway, store, nil, cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap, cfg.RAG.IngestWorkers, logger)

			var fetcher ingest.Fetcher = &ingest.HTTPFetcher{Client: &http.Client{Timeout: 30 * time.Second}}
			if rendered || kind == models.SourceDeployedBook {
				fetcher = &ingest.RenderedFetcher{}
			}

			report, err := ingestor.IngestURLs(ctx, fetcher, urls, kind)
			if err != nil {
				return err
			}
			log.Printf("ingested %d documents, %d chunks, %d failed", report.Documents, report.Chunks, len(report.Failed))
			for _, url := range report.Failed {
				log.Printf("failed: %s", url)
			}
			return nil
		},
	}
	ingestCmd.Flags().StringArrayVar(&urls, "url", nil, "URL to ingest (repeatable)")
	ingestCmd.Flags().StringVar(&source, "source", string(models.SourceBook), "source kind: web, book, or deployed-book")
	ingestCmd.Flags().BoolVar(&reset, "reset", false, "truncate the chunk collection before ingesting")
	ingestCmd.Flags().BoolVar(&rendered, "rendered", false, "render pages in a headless browser before extraction")
	ingestCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "config file (default is .)")

	return ingestCmd
}
