package blockchain

import (
	"time"

	"github.com/google/uuid"
)

const commandTopic = "blockchain.flow.commands"

type Authorizer struct {
	KmsResourceId        string `json:"kmsResourceId"`
	ResourceOwnerAddress string `json:"resourceOwnerAddress"`
}

// Command asks the settlement worker to submit one transaction. Reference is
// stable across retries of the same logical command, so the worker can drop
// duplicates.
type Command struct {
	Id          string       `json:"id"`
	Type        string       `json:"type"`
	Reference   string       `json:"reference,omitempty"`
	Payload     []any        `json:"payload"`
	Authorizers []Authorizer `json:"authorizers"`
	IssuedAt    time.Time    `json:"issuedAt"`
}

func (bc Command) GetEventTopicName() string {
	return commandTopic
}

func (bc Command) WithReference(reference string) Command {
	bc.Reference = reference
	return bc
}

func NewBlockchainCommand(commandType string, payload []any, authorizers []Authorizer) Command {
	return Command{
		Id:          uuid.New().String(),
		Type:        commandType,
		Payload:     payload,
		Authorizers: authorizers,
		IssuedAt:    time.Now().UTC(),
	}
}
