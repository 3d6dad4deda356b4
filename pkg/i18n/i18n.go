package i18n

import (
	"reflect"
	"sync"
)

// Language type
type Language string

const (
	LangEN Language = "en"
	LangZH Language = "zh"
)

// Messages holds all translatable strings
type Messages struct {
	// System
	Starting           string
	ConfigLoaded       string
	UsingDBPath        string
	ServerListening    string
	ShuttingDown       string
	SystemMetricsInit  string
	ConfigLoadFailed   string
	DBInitFailed       string
	DBMigrationsFailed string
	APIServerError     string

	// Sessions
	SessionManagerStarted string
	WalletSealingEnabled  string
	WalletSealingDisabled string
	SealerInitFailed      string

	// Wallet
	AgentWalletLoaded  string
	AgentWalletAbsent  string
	WalletSecretBroken string

	// Market
	PriceSourceAdded    string
	FallbackSourceAdded string
	MarketServiceReady  string

	// Tokens
	TokenSeedLoaded     string
	TokenSeedLoadFailed string
	TokenSeedSyncFailed string

	// Trading
	ExecutorReady      string
	RelayConfigured    string
	RelayNotConfigured string

	// Services
	ReconStarted     string
	BroadcastStarted string
}

var (
	currentLang Language = LangEN
	mu          sync.RWMutex
	messages    *Messages
)

// English messages
var messagesEN = Messages{
	// System
	Starting:           "Starting trading service...",
	ConfigLoaded:       "Config loaded (Port: %s)",
	UsingDBPath:        "Using DB path: %s",
	ServerListening:    "Server listening on :%s",
	ShuttingDown:       "Shutting down gracefully...",
	SystemMetricsInit:  "System metrics initialized",
	ConfigLoadFailed:   "Failed to load config: %v",
	DBInitFailed:       "Failed to init database: %v",
	DBMigrationsFailed: "Failed to apply migrations: %v",
	APIServerError:     "API server error: %v",

	// Sessions
	SessionManagerStarted: "Session manager started (duration: %dm, refresh window: %dm)",
	WalletSealingEnabled:  "Wallet data sealing enabled",
	WalletSealingDisabled: "WALLET_DATA_KEY not set, wallet data stored in plaintext",
	SealerInitFailed:      "Failed to init wallet data sealer: %v",

	// Wallet
	AgentWalletLoaded:  "Agent wallet loaded: %s",
	AgentWalletAbsent:  "WALLET_SECRET not set, trade execution requires client signatures",
	WalletSecretBroken: "Failed to load agent wallet: %v",

	// Market
	PriceSourceAdded:    "Price source registered: %s",
	FallbackSourceAdded: "Fallback price source registered: %s",
	MarketServiceReady:  "Market data service ready (cache TTL: %ds, retries: %d)",

	// Tokens
	TokenSeedLoaded:     "Token seed loaded: %d entries from %s",
	TokenSeedLoadFailed: "Failed to load token seed: %v",
	TokenSeedSyncFailed: "Failed to sync token seed to DB: %v",

	// Trading
	ExecutorReady:      "Trade executor ready (max slippage: %d bps)",
	RelayConfigured:    "Private relay configured: %s",
	RelayNotConfigured: "RELAY_URL not set, trade execution disabled",

	// Services
	ReconStarted:     "Reconciliation service started (interval: %ds)",
	BroadcastStarted: "Broadcast hub started (heartbeat: %ds)",
}

// Chinese messages
var messagesZH = Messages{
	// System
	Starting:           "啟動交易服務...",
	ConfigLoaded:       "設定已載入（埠號：%s）",
	UsingDBPath:        "使用資料庫路徑：%s",
	ServerListening:    "服務監聽於 :%s",
	ShuttingDown:       "正在優雅關閉...",
	SystemMetricsInit:  "系統指標初始化完成",
	ConfigLoadFailed:   "讀取設定失敗：%v",
	DBInitFailed:       "初始化資料庫失敗：%v",
	DBMigrationsFailed: "套用資料庫遷移失敗：%v",
	APIServerError:     "API 伺服器錯誤：%v",

	// Sessions
	SessionManagerStarted: "會話管理器已啟動（時效：%dm，續期窗口：%dm）",
	WalletSealingEnabled:  "錢包資料加密已啟用",
	WalletSealingDisabled: "未設定 WALLET_DATA_KEY，錢包資料以明文儲存",
	SealerInitFailed:      "初始化錢包資料加密器失敗：%v",

	// Wallet
	AgentWalletLoaded:  "代理錢包已載入：%s",
	AgentWalletAbsent:  "未設定 WALLET_SECRET，交易執行需由客戶端簽名",
	WalletSecretBroken: "載入代理錢包失敗：%v",

	// Market
	PriceSourceAdded:    "價格來源已註冊：%s",
	FallbackSourceAdded: "備援價格來源已註冊：%s",
	MarketServiceReady:  "行情服務就緒（快取 TTL：%ds，重試：%d）",

	// Tokens
	TokenSeedLoaded:     "代幣種子已載入：%d 筆，來自 %s",
	TokenSeedLoadFailed: "讀取代幣種子失敗：%v",
	TokenSeedSyncFailed: "同步代幣種子到資料庫失敗：%v",

	// Trading
	ExecutorReady:      "交易執行器就緒（最大滑點：%d bps）",
	RelayConfigured:    "私有中繼已設定：%s",
	RelayNotConfigured: "未設定 RELAY_URL，交易執行已停用",

	// Services
	ReconStarted:     "對帳服務已啟動（間隔：%ds）",
	BroadcastStarted: "廣播中樞已啟動（心跳：%ds）",
}

func init() {
	messages = &messagesEN
}

// SetLanguage sets the current language
func SetLanguage(lang Language) {
	mu.Lock()
	defer mu.Unlock()

	currentLang = lang
	switch lang {
	case LangZH:
		messages = &messagesZH
	default:
		messages = &messagesEN
	}
}

// GetLanguage returns the current language
func GetLanguage() Language {
	mu.RLock()
	defer mu.RUnlock()
	return currentLang
}

// M returns the current messages
func M() *Messages {
	mu.RLock()
	defer mu.RUnlock()
	return messages
}

// Get returns specific message by key dynamically using reflection
func Get(key string) string {
	msg := M()
	v := reflect.ValueOf(msg).Elem()
	f := v.FieldByName(key)
	if f.IsValid() && f.Kind() == reflect.String {
		return f.String()
	}
	return key
}
