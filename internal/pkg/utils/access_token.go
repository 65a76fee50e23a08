package utils

import (
	"firebase.google.com/go/v4/auth"
	"github.com/gin-gonic/gin"
	"github.com/kollektive-hackathon/battleblocks-escrow/internal/pkg/model"
)

const (
	// AddressClaimKey is the custom token claim carrying the user's Flow
	// account address.
	AddressClaimKey string = "address"
	tokenCtxKey     string = "accessToken"
	callerCtxKey    string = "callerAddress"
)

type AccessToken struct {
	Token    auth.Token
	RawToken string
}

func SetAccessTokenCtx(token *AccessToken, ctx *gin.Context) {
	ctx.Set(tokenCtxKey, *token)
}

// GetCaller returns the authenticated caller identity, or model.NoIdentity
// when the request carries none.
func GetCaller(ctx *gin.Context) model.Identity {
	return model.Identity(ctx.GetString(callerCtxKey))
}

func SetCallerCtx(address string, ctx *gin.Context) {
	ctx.Set(callerCtxKey, address)
}
