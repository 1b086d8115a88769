package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/glebarez/sqlite"
	"github.com/wwwzy/PaperFast/internal/storage"
	"gorm.io/gorm"
)

func main() {
	path := flag.String("db", "paperfast.db", "sqlite 数据库文件")
	flag.Parse()

	db, err := gorm.Open(sqlite.Open(*path), &gorm.Config{})
	if err != nil {
		log.Fatalf("failed to connect database: %v", err)
	}

	fmt.Println("--- Verifying PaperFast Database ---")

	if !db.Migrator().HasTable(&storage.Conversation{}) {
		fmt.Println("Table 'conversations' does not exist yet.")
	} else {
		var convs []storage.Conversation
		db.Order("updated_at desc").Limit(5).Find(&convs)
		fmt.Println("Latest 5 Conversations (Local Time):")
		for _, c := range convs {
			fmt.Printf("  #%d [%s] %s (%d messages)\n",
				c.ID, c.UpdatedAt.Local().Format("2006-01-02 15:04:05"), c.Name, c.MessageCount)
		}
	}

	fmt.Println("\n------------------------------------")

	if !db.Migrator().HasTable(&storage.DocumentChunk{}) {
		fmt.Println("Table 'document_chunks' does not exist yet.")
	} else {
		var rows []struct {
			Source string
			Chunks int64
		}
		db.Model(&storage.DocumentChunk{}).
			Select("source, count(*) as chunks").
			Group("source").
			Scan(&rows)
		fmt.Printf("Indexed Documents: %d\n", len(rows))
		for _, r := range rows {
			var first storage.DocumentChunk
			db.Where("source = ?", r.Source).Order("seq").First(&first)
			fmt.Printf("  %s: %d chunks, embedding dims %d\n", r.Source, r.Chunks, len(first.Embedding))
		}
	}

	fmt.Println("\n------------------------------------")

	if !db.Migrator().HasTable(&storage.AuditRecord{}) {
		fmt.Println("Table 'audit_records' does not exist yet.")
	} else {
		var recs []storage.AuditRecord
		db.Order("id desc").Limit(5).Find(&recs)
		fmt.Println("Latest 5 Tool Calls:")
		for _, r := range recs {
			fmt.Printf("  [%s] %s %s %s\n", r.TraceID, r.Agent, r.Action, r.Status)
		}
	}
}
