package practitest

import (
	"context"
)

// EnsureInstanceForTest returns the instance of testName in the test set
// setID, creating the test and the instance when they do not exist yet.
//
// Records are looked up on every call. The lookup and the creation are
// separate requests, so two concurrent calls for the same arguments may both
// create records.
func (c *Client) EnsureInstanceForTest(ctx context.Context, setID int, testName string) (int, error) {
	log := c.logger.With().Int("set_id", setID).Str("test_name", testName).Logger()

	testID, found, err := c.FindTestByExactName(ctx, testName)
	if err != nil {
		return 0, err
	}
	if !found {
		log.Debug().Msg("Test not found, creating it")
		if testID, err = c.CreateTest(ctx, testName); err != nil {
			return 0, err
		}
	}

	instanceID, found, err := c.FindInstanceByExactName(ctx, setID, testName)
	if err != nil {
		return 0, err
	}
	if !found {
		log.Debug().Int("test_id", testID).Msg("Instance not found, creating it")
		if instanceID, err = c.CreateInstance(ctx, setID, testID); err != nil {
			return 0, err
		}
	}

	log.Debug().Int("test_id", testID).Int("instance_id", instanceID).Msg("Resolved PractiTest instance")
	return instanceID, nil
}
