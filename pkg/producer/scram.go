package producer

import (
	"github.com/xdg-go/scram"
)

var (
	scramSHA256 = scram.SHA256
	scramSHA512 = scram.SHA512
)

// scramClient adapts the xdg-go SCRAM conversation to sarama's SCRAMClient.
type scramClient struct {
	client       *scram.Client
	conversation *scram.ClientConversation
	hashFn       scram.HashGeneratorFcn
}

func newSCRAMClient(hashFn scram.HashGeneratorFcn) *scramClient {
	return &scramClient{hashFn: hashFn}
}

func (c *scramClient) Begin(userName, password, authzID string) error {
	client, err := c.hashFn.NewClient(userName, password, authzID)
	if err != nil {
		return err
	}

	c.client = client
	c.conversation = client.NewConversation()

	return nil
}

func (c *scramClient) Step(challenge string) (string, error) {
	return c.conversation.Step(challenge)
}

func (c *scramClient) Done() bool {
	return c.conversation.Done()
}
