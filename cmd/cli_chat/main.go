package main

import (
	"bufio"
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ctrlcxy/smart-draw/internal/config"
	"github.com/ctrlcxy/smart-draw/internal/db"
	"github.com/ctrlcxy/smart-draw/internal/llm"
	"github.com/ctrlcxy/smart-draw/internal/repository"
	"github.com/ctrlcxy/smart-draw/internal/service"
)

// Cliente de terminal para probar el pipeline de generación sin levantar
// el servidor HTTP.
func main() {
	ctx := context.Background()
	reader := bufio.NewReader(os.Stdin)

	_ = godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, _ := zap.NewExample()
	defer logger.Sync()

	pool, err := db.NewPool(ctx, cfg)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	blobRepo := repository.NewPgBlobRepository(pool)
	convRepo := repository.NewPgConversationRepository(pool)
	msgRepo := repository.NewPgMessageRepository(pool)

	historySvc := service.NewHistoryService(logger, convRepo, msgRepo, blobRepo)
	rehydrateSvc := service.NewRehydrateService(logger, convRepo, msgRepo, blobRepo)
	streamClient := llm.NewHTTPStreamClient(cfg.LLMBaseURL, cfg.LLMAPIKey, logger)
	generateSvc := service.NewGenerateService(logger, streamClient, historySvc, msgRepo)

	serverConfig := &llm.ProviderConfig{Name: "cli", Model: cfg.LLMModel}

	fmt.Println("===== smart-draw CLI =====")
	fmt.Println("Comandos: /new (nueva conversación), /histories, /show <id>, /delete <id>, /exit")

	conversationID := ""
	for {
		fmt.Print("> ")
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}

		switch {
		case line == "/exit":
			return

		case line == "/new":
			conversationID = ""
			fmt.Println("Conversación nueva.")

		case line == "/histories":
			previews, err := historySvc.GetHistories(ctx)
			if err != nil {
				log.Printf("listar historial: %v", err)
				continue
			}
			for _, p := range previews {
				fmt.Printf("[%s] %s (%s)\n", p.ID, p.UserInput, p.ChartType)
			}

		case strings.HasPrefix(line, "/show "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/show "))
			view, err := rehydrateSvc.Rehydrate(ctx, id)
			if err != nil {
				log.Printf("rehidratar: %v", err)
				continue
			}
			for _, m := range view.Messages {
				fmt.Printf("%s: %s\n", m.Role, summarize(m.Content))
			}
			conversationID = id

		case strings.HasPrefix(line, "/delete "):
			id := strings.TrimSpace(strings.TrimPrefix(line, "/delete "))
			if err := historySvc.DeleteHistory(ctx, id); err != nil {
				log.Printf("borrar: %v", err)
				continue
			}
			fmt.Println("Borrado.")

		default:
			result, err := generateSvc.Generate(ctx, service.GenerateInput{
				Config:         serverConfig,
				ConversationID: conversationID,
				ChartType:      "auto",
				UserInput:      line,
			})
			if err != nil {
				log.Printf("generar: %v", err)
				continue
			}
			conversationID = result.ConversationID
			fmt.Printf("assistant (%s): %s\n", result.ConversationID, summarize(result.XML))
		}
	}
}

func summarize(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) > 120 {
		return string(runes[:120]) + "…"
	}
	return content
}
