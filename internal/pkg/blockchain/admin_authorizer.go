package blockchain

import "github.com/spf13/viper"

// GetAdminAuthorizer is the service account that signs every custody release.
func GetAdminAuthorizer() Authorizer {
	return Authorizer{
		KmsResourceId:        viper.GetString("ADMIN_GCP_KMS_RESOURCE_NAME"),
		ResourceOwnerAddress: viper.GetString("ADMIN_AUTHORIZER_ADDR"),
	}
}
