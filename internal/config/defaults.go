package config

const (
	DriverSQLite = "sqlite"
	DriverMySQL  = "mysql"
)

const (
	defaultDataDir                = "~/.local/share/callpipe"
	defaultStagingDir             = "~/.local/share/callpipe/staging"
	defaultLogDir                 = "~/.local/share/callpipe/logs"
	defaultStoreDriver            = DriverSQLite
	defaultStoreFile              = "status.db"
	defaultSourceIDColumn         = "contact_id"
	defaultObjectStoreRoot        = "~/.local/share/callpipe/recordings"
	defaultPathTemplate           = "recordings/{date}/{id}_{media_type}{ext}"
	defaultExtension              = ".mp3"
	defaultCXoneAuthURL           = "https://cxone.niceincontact.com/auth/token"
	defaultCXoneTimeoutSeconds    = 30
	defaultCXoneDownloadTimeout   = 60
	defaultCredentialCacheFile    = "cxone_token.json"
	defaultDeepgramBaseURL        = "https://api.deepgram.com"
	defaultDeepgramModel          = "nova-3"
	defaultDeepgramTimeoutSeconds = 300
	defaultClassifierBaseURL      = "https://openrouter.ai/api/v1/chat/completions"
	defaultClassifierModel        = "google/gemini-2.0-flash-thinking-exp:free"
	defaultClassifierFallback     = "google/gemini-2.0-flash-001"
	defaultClassifierSchema       = "v1.0"
	defaultClassifierReferer      = "https://github.com/callpipe/callpipe"
	defaultClassifierTitle        = "callpipe classifier"
	defaultClassifierTimeout      = 120
	defaultInterCallDelayMillis   = 1000
	defaultMaxAttempts            = 3
	defaultBackoffBaseMillis      = 2000
	defaultBackoffMaxMillis       = 30000
	defaultCallTimeoutSeconds     = 60
	defaultRefreshMarginSeconds   = 60
	defaultItemCap                = "5"
	defaultWorkers                = 1
	defaultStoreWriteAttempts     = 5
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:    defaultDataDir,
			StagingDir: defaultStagingDir,
			LogDir:     defaultLogDir,
		},
		Store: Store{
			Driver: defaultStoreDriver,
		},
		Source: Source{
			IDColumn: defaultSourceIDColumn,
		},
		ObjectStore: ObjectStore{
			Root:             defaultObjectStoreRoot,
			PathTemplate:     defaultPathTemplate,
			DefaultExtension: defaultExtension,
		},
		CXone: CXone{
			AuthURL:                defaultCXoneAuthURL,
			TimeoutSeconds:         defaultCXoneTimeoutSeconds,
			DownloadTimeoutSeconds: defaultCXoneDownloadTimeout,
		},
		Deepgram: Deepgram{
			BaseURL:        defaultDeepgramBaseURL,
			Model:          defaultDeepgramModel,
			Multichannel:   true,
			Diarize:        true,
			Analysis:       true,
			TimeoutSeconds: defaultDeepgramTimeoutSeconds,
		},
		Classifier: Classifier{
			BaseURL:        defaultClassifierBaseURL,
			Model:          defaultClassifierModel,
			FallbackModel:  defaultClassifierFallback,
			SchemaVersion:  defaultClassifierSchema,
			Referer:        defaultClassifierReferer,
			Title:          defaultClassifierTitle,
			TimeoutSeconds: defaultClassifierTimeout,
		},
		Executor: Executor{
			InterCallDelayMillis: defaultInterCallDelayMillis,
			MaxAttempts:          defaultMaxAttempts,
			BackoffBaseMillis:    defaultBackoffBaseMillis,
			BackoffMaxMillis:     defaultBackoffMaxMillis,
			CallTimeoutSeconds:   defaultCallTimeoutSeconds,
		},
		Session: Session{
			RefreshMarginSeconds: defaultRefreshMarginSeconds,
		},
		Run: Run{
			ItemCap:            defaultItemCap,
			Workers:            defaultWorkers,
			StoreWriteAttempts: defaultStoreWriteAttempts,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
