package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/pickandplay/guitar-api/internal/auth"
	userDatamodel "github.com/pickandplay/guitar-api/internal/core/datamodel/user"
	"github.com/pickandplay/guitar-api/internal/order"
	orderPostgres "github.com/pickandplay/guitar-api/internal/order/postgres"
)

var clearData bool

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Seed the database with sample data",
	Long:  `Seed a demo customer and two unpaid orders for trying the KHQR flow locally.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg, err := loadConfig(".")
		if err != nil {
			log.Fatalf("failed to load config: %v", err)
		}

		db, err := initDB(cfg.Database)
		if err != nil {
			log.Fatalf("failed to init db: %v", err)
		}
		defer db.Close()

		gdb, err := initGorm(db)
		if err != nil {
			log.Fatalf("failed to init gorm: %v", err)
		}

		if clearData {
			for _, table := range []string{"bakong_payments", "orders", "users"} {
				if err := gdb.Exec("DELETE FROM " + table).Error; err != nil {
					log.Fatalf("failed to clear %s: %v", table, err)
				}
			}
			fmt.Println("Cleared existing data")
		}

		email := "dara@pickandplay.test"
		name := "Sok Dara"
		hash, err := auth.HashPassword("password")
		if err != nil {
			log.Fatalf("failed to hash password: %v", err)
		}

		demo := userDatamodel.User{Email: email, Name: name, PasswordHash: hash}
		res := gdb.Where(userDatamodel.User{Email: email}).Attrs(demo).FirstOrCreate(&demo)
		if res.Error != nil {
			log.Fatalf("failed to upsert demo user: %v", res.Error)
		}
		if res.RowsAffected > 0 {
			fmt.Println("Seeded demo user:", email)
		} else {
			fmt.Println("demo user already exists:", email)
		}
		userID := demo.ID

		orders := orderPostgres.NewOrderRepository(gdb)
		ctx := context.Background()

		owned := order.NewOrder(name, "St. 271, Toul Kork, Phnom Penh", decimal.NewFromInt(10), &userID)
		if err := orders.Create(ctx, owned); err != nil {
			log.Fatalf("failed to insert demo order: %v", err)
		}
		guest := order.NewOrder("", "", decimal.RequireFromString("249.99"), nil)
		if err := orders.Create(ctx, guest); err != nil {
			log.Fatalf("failed to insert guest order: %v", err)
		}
		fmt.Printf("Seeded order #%d (owned, 10.00 USD) and guest order #%d (249.99 USD)\n", owned.ID, guest.ID)

		token, err := auth.NewJWTTokenGenerator(cfg.Security.JWTSecret).GenerateAccessToken(userID)
		if err != nil {
			log.Fatalf("failed to sign demo token: %v", err)
		}
		fmt.Println("Demo bearer token:", token)
	},
}

func init() {
	seedCmd.Flags().BoolVar(&clearData, "clear", false, "Clear existing data before seeding")
}
