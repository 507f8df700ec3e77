package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/tradedocs/authority"
	"github.com/mmdatafocus/tradedocs/catalog"
	"github.com/mmdatafocus/tradedocs/config"
	"github.com/sirupsen/logrus"
)

const defaultPort = "8080"

func main() {
	port := os.Getenv("MOCK_AUTHORITY_PORT")
	if port == "" {
		port = os.Getenv("PORT")
	}
	if port == "" {
		port = defaultPort
	}

	logger := config.GetLogger()
	if strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production") {
		gin.SetMode(gin.ReleaseMode)
	}

	sigCtx, stopSignals := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stopSignals()

	store := authority.NewStore()
	seedCatalog(store)

	opts := []authority.RouterOption{authority.WithLogger(logger)}
	if strings.EqualFold(strings.TrimSpace(os.Getenv("AUTH_REQUIRED")), "true") {
		opts = append(opts, authority.WithAuth())
	}
	r := authority.NewRouter(store, opts...)
	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "route not found"})
	})

	srv := &http.Server{
		Addr:    ":" + port,
		Handler: r,
	}
	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- srv.ListenAndServe()
	}()
	logger.WithFields(logrus.Fields{"field": "server", "port": port}).Info("mock authority listening")

	select {
	case <-sigCtx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	case err := <-serverErrCh:
		if err != nil && err != http.ErrServerClosed {
			logger.WithFields(logrus.Fields{"field": "server"}).Error(err)
			os.Exit(1)
		}
	}
}

// seedCatalog gives the dev server a few names to resolve.
func seedCatalog(store *authority.Store) {
	store.SeedNames(catalog.KindCounterparties, map[int64]string{1: "Aung Trading", 2: "Mandalay Metals", 3: "Yangon Textiles"})
	store.SeedNames(catalog.KindCategories, map[int64]string{1: "Raw material", 2: "Finished goods"})
	store.SeedNames(catalog.KindProducts, map[int64]string{1: "Copper wire", 2: "Steel rod", 3: "Cotton roll"})
}
