package config

import (
	"log"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config 结构体包含所有应用的配置
type Config struct {
	Server   ServerConfig    `mapstructure:"server"` // `mapstructure` 标签用于Viper绑定结构体
	Redis    RedisConfig     `mapstructure:"redis"`
	Storage  StorageConfig   `mapstructure:"storage"`
	GitHub   GitHubConfig    `mapstructure:"github"`
	MinIO    MinIOConfig     `mapstructure:"minio"`
	Aliyun   AliyunOSSConfig `mapstructure:"aliyun_oss"`
	RabbitMQ RabbitMQConfig  `mapstructure:"rabbitmq"`
	Scan     ScanConfig      `mapstructure:"scan"`
	Share    ShareConfig     `mapstructure:"share"`
	Log      LogConfig       `mapstructure:"log"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port string `mapstructure:"port"`
	Env  string `mapstructure:"env"` // production / development，决定元数据存储不可用时是致命错误还是降级警告
}

// IsProduction 判断当前是否为生产环境
func (c *ServerConfig) IsProduction() bool {
	return c.Env == "production"
}

// RedisConfig Redis配置
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// StorageConfig 分块对象存储配置
type StorageConfig struct {
	Type string `mapstructure:"type"` // github / minio / aliyun_oss

	// 单个资产上限为2GB,分块大小必须严格小于该值并留出余量
	ChunkSize int64 `mapstructure:"chunk_size"`
	// 超过该大小才尝试压缩
	CompressThreshold int64 `mapstructure:"compress_threshold"`
	// 压缩后至少要比原始小这么多比例才保留压缩结果
	CompressMinGain float64 `mapstructure:"compress_min_gain"`

	// 滚动一小时内允许创建的容器数量,防止触发后端滥用检测
	MaxReleasesPerHour int `mapstructure:"max_releases_per_hour"`
	// 相邻两次资产上传之间的随机延迟区间,测试环境可配置为0
	UploadDelayMinMS int `mapstructure:"upload_delay_min_ms"`
	UploadDelayMaxMS int `mapstructure:"upload_delay_max_ms"`

	// 解压失败时是否允许回退为原始字节(兼容旧记录压缩标记不一致的情况)
	AllowRawFallback bool `mapstructure:"allow_raw_fallback"`
}

// GitHubConfig Release资产后端配置
type GitHubConfig struct {
	Token   string `mapstructure:"token"`
	Owner   string `mapstructure:"owner"`
	Repo    string `mapstructure:"repo"`
	BaseURL string `mapstructure:"base_url"` // 默认 https://api.github.com，测试时可指向桩服务
}

// MinIOConfig MinIO配置
type MinIOConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	BucketName      string `mapstructure:"bucket_name"`
}

// AliyunOSSConfig 阿里云OSS配置
type AliyunOSSConfig struct {
	Endpoint        string `mapstructure:"endpoint"` // 例如: oss-cn-hangzhou.aliyuncs.com
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	BucketName      string `mapstructure:"bucket_name"`
}

// RabbitMQConfig RabbitMQ配置
type RabbitMQConfig struct {
	URL     string `mapstructure:"url"`
	Enabled bool   `mapstructure:"enabled"` // 未启用时扫描任务在上传请求内同步执行
}

// ScanConfig 病毒扫描网关配置
type ScanConfig struct {
	ScannerURL string `mapstructure:"scanner_url"`
	// 判定为感染所需的最少引擎命中数
	PositivesThreshold int `mapstructure:"positives_threshold"`
	// suspicious 判定是否阻断下载,默认仅标记警告
	SuspiciousBlocks bool          `mapstructure:"suspicious_blocks"`
	PollInterval     time.Duration `mapstructure:"poll_interval"`
	PollTimeout      time.Duration `mapstructure:"poll_timeout"`
}

// ShareConfig 分享记录生命周期配置
type ShareConfig struct {
	MaxFileSize      int64         `mapstructure:"max_file_size"`
	DefaultTTLHours  int           `mapstructure:"default_ttl_hours"`
	MaxTTLHours      int           `mapstructure:"max_ttl_hours"` // 硬上限,默认168小时
	DefaultMaxUses   int           `mapstructure:"default_max_uses"`
	CaptchaThreshold int           `mapstructure:"captcha_threshold"` // 失败尝试达到该次数后要求验证码
	AuditRetention   time.Duration `mapstructure:"audit_retention"`   // 墓碑记录保留时长
}

// zap日志配置
type LogConfig struct {
	OutputPath string `mapstructure:"output_path"`
	ErrorPath  string `mapstructure:"error_path"`
	Level      string `mapstructure:"level"`
}

var AppConfig *Config // 全局应用配置实例

// LoadConfig 加载配置
func LoadConfig() (*Config, error) {
	viper.SetConfigName("config")         // 配置文件名 (不带扩展名)
	viper.SetConfigType("yaml")           // 配置文件类型
	viper.AddConfigPath(".")              // 在当前目录查找配置文件
	viper.AddConfigPath("./configs")      // 也可以添加其他路径，例如 ./configs/
	viper.AddConfigPath("/etc/fileduck/") // 生产环境常见路径

	// 读取环境变量，环境变量名将自动转换为大写，并用下划线替换点
	// 例如：GITHUB.TOKEN 对应环境变量 FILEDUCK_GITHUB_TOKEN
	viper.SetEnvPrefix("FILEDUCK")
	viper.AutomaticEnv()
	replacer := strings.NewReplacer(".", "_")
	viper.SetEnvKeyReplacer(replacer)

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// 配置文件未找到不是致命错误，依赖环境变量和默认值即可
			log.Println("Warning: config file not found, using environment variables or default values.")
		} else {
			log.Fatalf("Fatal error reading config file: %s \n", err)
			return nil, err
		}
	}

	AppConfig = &Config{}
	if err := viper.Unmarshal(AppConfig); err != nil {
		log.Fatalf("Fatal error unmarshaling config: %s \n", err)
		return nil, err
	}

	log.Println("Configuration loaded successfully with Viper.")
	return AppConfig, nil
}

func setDefaults() {
	viper.SetDefault("server.port", "8080")
	viper.SetDefault("server.env", "development")
	viper.SetDefault("redis.addr", "redis:6379")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("storage.type", "github")
	viper.SetDefault("storage.chunk_size", int64(1_900_000_000)) // 安全低于2GB资产上限
	viper.SetDefault("storage.compress_threshold", int64(10*1024*1024))
	viper.SetDefault("storage.compress_min_gain", 0.05)
	viper.SetDefault("storage.max_releases_per_hour", 10)
	viper.SetDefault("storage.upload_delay_min_ms", 2000)
	viper.SetDefault("storage.upload_delay_max_ms", 5000)
	viper.SetDefault("storage.allow_raw_fallback", false)
	viper.SetDefault("github.base_url", "https://api.github.com")
	viper.SetDefault("rabbitmq.enabled", false)
	viper.SetDefault("scan.positives_threshold", 3)
	viper.SetDefault("scan.suspicious_blocks", false)
	viper.SetDefault("scan.poll_interval", 3*time.Second)
	viper.SetDefault("scan.poll_timeout", 60*time.Second)
	viper.SetDefault("share.max_file_size", int64(5*1024*1024*1024))
	viper.SetDefault("share.default_ttl_hours", 24)
	viper.SetDefault("share.max_ttl_hours", 168)
	viper.SetDefault("share.default_max_uses", 1)
	viper.SetDefault("share.captcha_threshold", 3)
	viper.SetDefault("share.audit_retention", 24*time.Hour)
	viper.SetDefault("log.output_path", "logs/app.log")
	viper.SetDefault("log.error_path", "logs/error.log")
	viper.SetDefault("log.level", "info")
}
