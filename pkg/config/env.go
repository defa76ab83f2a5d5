package config

// EnvPrefix is empty because every field carries its fully qualified variable name.
const EnvPrefix = ""

const (
	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv            = "MARKETPLACE_APP_ENV"
	EnvPort              = "MARKETPLACE_APP_PORT"
	EnvDBDSN             = "MARKETPLACE_DB_DSN"
	EnvDBHost            = "MARKETPLACE_DB_HOST"
	EnvDBUser            = "MARKETPLACE_DB_USER"
	EnvDBName            = "MARKETPLACE_DB_NAME"
	EnvDBPassword        = "MARKETPLACE_DB_PASSWORD"
	EnvRedisURL          = "MARKETPLACE_REDIS_URL"
	EnvJWTSecret         = "MARKETPLACE_JWT_SECRET"
	EnvJWTIssuer         = "MARKETPLACE_JWT_ISSUER"
	EnvJWTExpMins        = "MARKETPLACE_JWT_EXPIRATION_MINUTES"
	EnvCORSOrigins       = "MARKETPLACE_CORS_ALLOWED_ORIGINS"
	EnvPubSubOrdersTopic = "MARKETPLACE_PUBSUB_ORDERS_TOPIC"
	EnvPubSubOrdersSub   = "MARKETPLACE_PUBSUB_ORDERS_SUBSCRIPTION"
	EnvStripeAPIKey      = "MARKETPLACE_STRIPE_API_KEY"
	EnvStripeSecret      = "MARKETPLACE_STRIPE_WEBHOOK_SECRET"
	EnvStripeTimeout     = "MARKETPLACE_STRIPE_TIMEOUT"
	EnvOrderPendingTTL   = "MARKETPLACE_ORDER_PENDING_TTL"
	EnvOrderMaxLineItems = "MARKETPLACE_ORDER_MAX_LINE_ITEMS"
)

var componentDBEnvVars = []string{
	EnvDBHost,
	EnvDBUser,
	EnvDBName,
}
