package contracts

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLoadVerification(t *testing.T) {
	spec, err := LoadVerification()
	require.NoError(t, err)

	require.NotNil(t, spec.Components.SecuritySchemes["bearerAuth"])

	validate := spec.Paths.Find("/certificates/{certificateId}/validate")
	require.NotNil(t, validate)
	require.NotNil(t, validate.Get.Security)
	require.Empty(t, *validate.Get.Security)

	for _, path := range []string{
		"/owners",
		"/owners/{ownerId}",
		"/owners/{ownerId}/documents",
		"/owners/{ownerId}/audit-log",
		"/owners/{ownerId}/verification",
		"/verifications/{verificationId}",
		"/verifications/{verificationId}/draft",
		"/verifications/{verificationId}/sections/{section}",
		"/verifications/{verificationId}/documents",
		"/verifications/{verificationId}/documents/{documentId}/decision",
		"/verifications/{verificationId}/submit",
	} {
		require.NotNil(t, spec.Paths.Find(path), path)
	}
}

func TestIfMatchIsOptional(t *testing.T) {
	spec, err := LoadVerification()
	require.NoError(t, err)

	ifMatch := spec.Components.Parameters["IfMatch"]
	require.NotNil(t, ifMatch)
	require.False(t, ifMatch.Value.Required)
	require.Contains(t, ifMatch.Value.Description, "last writer wins")

	get := spec.Paths.Find("/verifications/{verificationId}").Get
	require.NotNil(t, get)
	require.Equal(t, "verificationsGet", get.OperationID)
	require.NotNil(t, get.Responses.Status(200).Value.Headers["ETag"])
}
