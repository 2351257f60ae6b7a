package memory

import "context"

func (s *Store) AddSubscriptions(_ context.Context, userID string, topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(topics) == 0 {
		return nil
	}

	ut, ok := s.userTopics[userID]
	if !ok {
		ut = make(map[string]struct{})
		s.userTopics[userID] = ut
	}
	for _, topic := range topics {
		tu, ok := s.topicUsers[topic]
		if !ok {
			tu = make(map[string]struct{})
			s.topicUsers[topic] = tu
		}
		tu[userID] = struct{}{}
		ut[topic] = struct{}{}
		s.topicIndex[topic] = struct{}{}
	}
	s.userIndex[userID] = struct{}{}
	return nil
}

func (s *Store) RemoveSubscriptions(_ context.Context, userID string, topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, topic := range topics {
		s.removeEdgeLocked(topic, userID)
	}
	return nil
}

func (s *Store) removeEdgeLocked(topic, userID string) {
	if tu, ok := s.topicUsers[topic]; ok {
		delete(tu, userID)
		if len(tu) == 0 {
			delete(s.topicUsers, topic)
		}
	}
	if ut, ok := s.userTopics[userID]; ok {
		delete(ut, topic)
		if len(ut) == 0 {
			delete(s.userTopics, userID)
		}
	}
}

func (s *Store) UserTopics(_ context.Context, userID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.userTopics[userID]), nil
}

func (s *Store) TopicUsers(_ context.Context, topic string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.topicUsers[topic]), nil
}

func (s *Store) DropUser(_ context.Context, userID string, topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, topic := range topics {
		if tu, ok := s.topicUsers[topic]; ok {
			delete(tu, userID)
			if len(tu) == 0 {
				delete(s.topicUsers, topic)
			}
		}
	}
	delete(s.userTopics, userID)
	return nil
}

func (s *Store) IndexedTopics(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.topicIndex), nil
}

func (s *Store) IndexedUsers(_ context.Context) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return sortedKeys(s.userIndex), nil
}

func (s *Store) TopicSizes(_ context.Context, topics []string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sizes := make([]int64, len(topics))
	for i, topic := range topics {
		sizes[i] = int64(len(s.topicUsers[topic]))
	}
	return sizes, nil
}

func (s *Store) UserSizes(_ context.Context, users []string) ([]int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sizes := make([]int64, len(users))
	for i, userID := range users {
		sizes[i] = int64(len(s.userTopics[userID]))
	}
	return sizes, nil
}

func (s *Store) UnindexTopics(_ context.Context, topics []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, topic := range topics {
		delete(s.topicIndex, topic)
	}
	return nil
}

func (s *Store) UnindexUsers(_ context.Context, users []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, userID := range users {
		delete(s.userIndex, userID)
	}
	return nil
}
