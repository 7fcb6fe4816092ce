package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"cardDesigner/internal/cardlayout"
	"cardDesigner/internal/config"
	"cardDesigner/internal/database"
	"cardDesigner/internal/storage"
	"cardDesigner/internal/store"
)

// 打印产物在对象存储中的前缀，与 worker 上传路径一致。
const printedBadgePrefix = "printed-badges/"

func main() {
	var (
		exportPath  = flag.String("export", "", "导出当前设计到 JSON 文件（- 表示标准输出）")
		importPath  = flag.String("import", "", "从 JSON 文件导入设计（会经过 Normalize）")
		reset       = flag.Bool("reset", false, "删除已保存的设计，回到默认值")
		purgePrints = flag.Bool("purge-prints", false, "删除对象存储中所有已打印的工牌文件")
		dbHost      = flag.String("db-host", "", "数据库 Host（可选，默认读 DATABASE_HOST）")
		dbPort      = flag.Int("db-port", 0, "数据库 Port（可选，默认读 DATABASE_PORT）")
		dbName      = flag.String("db-name", "", "数据库名（可选，默认读 POSTGRES_DB）")
		dbUser      = flag.String("db-user", "", "数据库用户（可选，默认读 POSTGRES_USER）")
		dbPass      = flag.String("db-password", "", "数据库密码（可选，默认读 POSTGRES_PASSWORD）")
		sslMode     = flag.String("db-sslmode", "", "数据库 SSLMODE（可选，默认读 DATABASE_SSLMODE）")
	)
	flag.Parse()
	_ = godotenv.Load()

	if *exportPath == "" && *importPath == "" && !*reset && !*purgePrints {
		flag.Usage()
		os.Exit(2)
	}
	if *importPath != "" && *reset {
		log.Fatal("--import and --reset cannot be combined")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	if *exportPath != "" || *importPath != "" || *reset {
		dbCfg, err := loadDatabaseConfig(*dbHost, *dbPort, *dbName, *dbUser, *dbPass, *sslMode)
		if err != nil {
			log.Fatalf("load database config: %v", err)
		}
		db, err := database.InitDatabase(dbCfg)
		if err != nil {
			log.Fatalf("init database: %v", err)
		}
		if err := database.Migrate(db); err != nil {
			log.Fatalf("migrate database: %v", err)
		}
		layouts := store.NewDBStore(db)

		switch {
		case *reset:
			if err := layouts.Reset(ctx); err != nil {
				log.Fatalf("reset card design: %v", err)
			}
			fmt.Println("已删除保存的设计，编辑器将回到默认设计。")
		case *importPath != "":
			if err := importLayout(ctx, layouts, *importPath); err != nil {
				log.Fatalf("import card design: %v", err)
			}
			fmt.Printf("已导入设计：%s\n", *importPath)
		}
		if *exportPath != "" {
			if err := exportLayout(ctx, layouts, *exportPath); err != nil {
				log.Fatalf("export card design: %v", err)
			}
		}
	}

	if *purgePrints {
		cfg, err := config.Load()
		if err != nil {
			log.Fatalf("load config: %v", err)
		}
		client, err := storage.NewClient(cfg.MinIO)
		if err != nil {
			log.Fatalf("init storage client: %v", err)
		}
		if err := client.DeletePrefix(ctx, printedBadgePrefix); err != nil {
			log.Fatalf("purge printed badges: %v", err)
		}
		fmt.Printf("已清理 %s 下的打印文件。\n", printedBadgePrefix)
	}
}

func exportLayout(ctx context.Context, layouts *store.DBStore, path string) error {
	layout, err := layouts.Get(ctx)
	if errors.Is(err, store.ErrNotFound) {
		layout = cardlayout.DefaultCardLayout
	} else if err != nil {
		return err
	}
	data, err := cardlayout.Encode(layout)
	if err != nil {
		return err
	}
	if path == "-" {
		_, err = os.Stdout.Write(append(data, '\n'))
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func importLayout(ctx context.Context, layouts *store.DBStore, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	layout, err := cardlayout.Decode(data)
	if err != nil {
		return fmt.Errorf("decode %s: %w", path, err)
	}
	return layouts.Put(ctx, layout.Normalize())
}

func loadDatabaseConfig(host string, port int, name, user, password, sslmode string) (config.DatabaseConfig, error) {
	if strings.TrimSpace(host) == "" {
		host = os.Getenv("DATABASE_HOST")
	}
	if port <= 0 {
		if env := strings.TrimSpace(os.Getenv("DATABASE_PORT")); env != "" {
			p, err := strconv.Atoi(env)
			if err != nil {
				return config.DatabaseConfig{}, fmt.Errorf("parse DATABASE_PORT: %w", err)
			}
			port = p
		}
	}
	if strings.TrimSpace(name) == "" {
		name = os.Getenv("POSTGRES_DB")
	}
	if strings.TrimSpace(name) == "" {
		name = os.Getenv("DB_NAME")
	}
	if strings.TrimSpace(user) == "" {
		user = os.Getenv("POSTGRES_USER")
	}
	if strings.TrimSpace(user) == "" {
		user = os.Getenv("DB_USER")
	}
	if strings.TrimSpace(password) == "" {
		password = os.Getenv("POSTGRES_PASSWORD")
	}
	if strings.TrimSpace(password) == "" {
		password = os.Getenv("DB_PASSWORD")
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = os.Getenv("DATABASE_SSLMODE")
	}

	if strings.TrimSpace(host) == "" {
		host = "localhost"
	}
	if port <= 0 {
		port = 5432
	}
	if strings.TrimSpace(sslmode) == "" {
		sslmode = "disable"
	}
	if strings.TrimSpace(name) == "" {
		return config.DatabaseConfig{}, errors.New("database name is required (POSTGRES_DB)")
	}
	if strings.TrimSpace(user) == "" {
		return config.DatabaseConfig{}, errors.New("database user is required (POSTGRES_USER)")
	}
	if strings.TrimSpace(password) == "" {
		return config.DatabaseConfig{}, errors.New("database password is required (POSTGRES_PASSWORD)")
	}

	return config.DatabaseConfig{
		Host:     host,
		Port:     port,
		Name:     name,
		User:     user,
		Password: password,
		SSLMode:  sslmode,
	}, nil
}
