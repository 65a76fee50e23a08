package middleware

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/viper"
)

func CORS() gin.HandlerFunc {
	config := cors.DefaultConfig()
	origins := viper.GetStringSlice("CORS_ALLOWED_ORIGINS")
	if len(origins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = origins
	}
	config.AddAllowHeaders("Authorization")
	config.MaxAge = 12 * time.Hour
	return cors.New(config)
}
